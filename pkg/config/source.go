package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileSource abstracts over the embedded bundled tier and the plain-
// filesystem user/project tiers so configLoader can treat all three
// identically.
type fileSource interface {
	listYAML(subdir string) ([]string, error)
	read(subdir, name string) ([]byte, error)
}

type embedSource struct {
	fsys fs.FS
	root string
}

func (s embedSource) listYAML(subdir string) ([]string, error) {
	entries, err := fs.ReadDir(s.fsys, filepath.Join(s.root, subdir))
	if err != nil {
		return nil, err
	}
	return filterYAML(entries), nil
}

func (s embedSource) read(subdir, name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, filepath.Join(s.root, subdir, name))
}

type dirSource struct {
	root string
}

func (s dirSource) listYAML(subdir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, subdir))
	if err != nil {
		return nil, err
	}
	return filterYAML(entries), nil
}

func (s dirSource) read(subdir, name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.root, subdir, name))
}

func filterYAML(entries []fs.DirEntry) []string {
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

// readYAMLSlice reads subdir/name from src, expands ${ENV_VAR}
// references, and unmarshals it as a YAML sequence of T.
func readYAMLSlice[T any](src fileSource, subdir, name string) ([]T, string, error) {
	path := filepath.Join(subdir, name)
	raw, err := src.read(subdir, name)
	if err != nil {
		return nil, path, err
	}
	expanded, missing := ExpandEnv(string(raw))
	if len(missing) > 0 {
		return nil, path, fmt.Errorf("unset environment variable(s): %v", missing)
	}
	var items []T
	if err := yaml.Unmarshal([]byte(expanded), &items); err != nil {
		return nil, path, fmt.Errorf("parse yaml: %w", err)
	}
	return items, path, nil
}
