package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("GOBBY_TEST_HOST", "db.internal")
	t.Setenv("GOBBY_TEST_EMPTY", "")

	tests := []struct {
		name        string
		raw         string
		wantOut     string
		wantMissing []string
	}{
		{
			name:    "simple reference resolved",
			raw:     "host: ${GOBBY_TEST_HOST}",
			wantOut: "host: db.internal",
		},
		{
			name:    "reference with unused default resolved from env",
			raw:     "host: ${GOBBY_TEST_HOST:-localhost}",
			wantOut: "host: db.internal",
		},
		{
			name:    "default used when unset",
			raw:     "port: ${GOBBY_TEST_PORT:-5432}",
			wantOut: "port: 5432",
		},
		{
			name:    "set-but-empty is not missing",
			raw:     "label: ${GOBBY_TEST_EMPTY}",
			wantOut: "label: ",
		},
		{
			name:        "unset with no default is reported missing and left in place",
			raw:         "token: ${GOBBY_TEST_NOPE}",
			wantOut:     "token: ${GOBBY_TEST_NOPE}",
			wantMissing: []string{"GOBBY_TEST_NOPE"},
		},
		{
			name:    "literal dollar sign without braces is untouched",
			raw:     "price: $5.00",
			wantOut: "price: $5.00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, missing := ExpandEnv(tt.raw)
			assert.Equal(t, tt.wantOut, out)
			assert.Equal(t, tt.wantMissing, missing)
		})
	}
}

func TestMustExpandEnv(t *testing.T) {
	t.Setenv("GOBBY_TEST_HOST", "db.internal")

	out, err := MustExpandEnv("host: ${GOBBY_TEST_HOST}")
	require.NoError(t, err)
	assert.Equal(t, "host: db.internal", out)

	_, err = MustExpandEnv("token: ${GOBBY_TEST_NOPE}")
	require.Error(t, err)
}
