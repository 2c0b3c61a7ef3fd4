// gobbyd is the orchestration daemon: it loads workflow/agent/party
// definitions, serves the tool surface spawned agents call into, and
// evaluates hook events against the loaded workflows.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/gobby-dev/gobby/pkg/adminhttp"
	"github.com/gobby-dev/gobby/pkg/bus"
	"github.com/gobby-dev/gobby/pkg/cleanup"
	"github.com/gobby-dev/gobby/pkg/config"
	"github.com/gobby-dev/gobby/pkg/hooks"
	"github.com/gobby-dev/gobby/pkg/party"
	"github.com/gobby-dev/gobby/pkg/pipeline"
	"github.com/gobby-dev/gobby/pkg/registry"
	"github.com/gobby-dev/gobby/pkg/spawner"
	"github.com/gobby-dev/gobby/pkg/store"
	"github.com/gobby-dev/gobby/pkg/tasks"
	"github.com/gobby-dev/gobby/pkg/toolsurface"
	"github.com/gobby-dev/gobby/pkg/version"
	"github.com/gobby-dev/gobby/pkg/workflow/engine"
	"github.com/gobby-dev/gobby/pkg/workflow/index"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("GOBBY_CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	projectDir := flag.String("project-dir",
		getEnv("GOBBY_PROJECT_DIR", "."),
		"Path to the project root being orchestrated")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: Could not load %s file: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	httpAddr := ":" + getEnv("GOBBY_HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "debug"))

	log.Printf("Starting gobbyd %s", version.Full())
	log.Printf("HTTP Port: %s", httpAddr)
	log.Printf("Config Directory: %s", *configDir)

	ctx := context.Background()

	dirs := config.DefaultDirs(*projectDir)
	cfg, err := config.Load(dirs, slog.Default())
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbConfig, err := store.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	st, err := store.NewStore(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()
	log.Println("Connected to PostgreSQL database")

	b := bus.NewBus(5 * time.Second)
	idx := index.New(cfg)

	drivers := map[string]spawner.Driver{
		"in_process": &spawner.InProcessDriver{},
		"headless":   &spawner.HeadlessDriver{},
		"terminal":   &spawner.TerminalDriver{},
		"embedded":   &spawner.EmbeddedDriver{},
	}
	reg := registry.New(st, cfg.Agents, b, drivers)

	waitConfig := tasks.WaitConfig{
		PollInterval:       500 * time.Millisecond,
		PollIntervalJitter: 150 * time.Millisecond,
	}
	graph := tasks.New(st.Tasks, st.Sessions, waitConfig)

	scheduler := party.New(st, reg, b)

	box := toolsurface.New(st, reg, graph, idx, scheduler, b)

	// A pipeline's `prompt` step needs an LLM client this exercise has
	// no SDK for (spec.md §1); pipeline.Executor treats a nil Prompter
	// as "fail only that step" rather than refusing to start.
	runner := pipeline.New(st.PipelineRuns, st.AgentRuns, cfg.Pipelines, idx, reg, box, nil)

	eng := engine.New(st, idx, box, runner)
	hookRegistry := hooks.NewRegistry(nil)

	// Hook transport ingress (the HTTP/stdio surface a CLI's hook
	// script would POST to) is out of scope per spec.md §1; eng and
	// hookRegistry are the seam that transport would call Normalize
	// and Evaluate through once added.
	_ = eng
	_ = hookRegistry

	cleanupSvc := cleanup.NewService(cleanup.Config{
		SessionRetentionAge: 30 * 24 * time.Hour,
		CleanupInterval:     1 * time.Hour,
	}, st.Sessions)
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	slog.Info("components initialized",
		"workflows", len(cfg.Workflows.All()),
		"agents", len(cfg.Agents.All()),
		"parties", len(cfg.Parties.All()),
		"pipelines", len(cfg.Pipelines.All()))

	srv := adminhttp.New(st, cfg, b)
	log.Printf("HTTP server listening on %s", httpAddr)
	log.Printf("Health check available at: http://localhost%s/health", httpAddr)
	if err := srv.Run(httpAddr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
