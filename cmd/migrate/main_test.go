package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		env     map[string]string
		want    options
		wantErr string
	}{
		{
			name: "defaults with env dsn",
			env:  map[string]string{envPostgresDSN: " postgres://env "},
			want: options{direction: "up", dsn: "postgres://env"},
		},
		{
			name: "flag dsn wins",
			args: []string{"-direction=STATUS", "-dsn=postgres://flag"},
			env:  map[string]string{envPostgresDSN: "postgres://env"},
			want: options{direction: "status", dsn: "postgres://flag"},
		},
		{
			name: "down defaults to one step",
			args: []string{"-direction=down", "-dsn=postgres://flag"},
			want: options{direction: "down", steps: 1, dsn: "postgres://flag"},
		},
		{name: "missing dsn", args: []string{"-direction=status"}, wantErr: envPostgresDSN},
		{name: "bad direction", args: []string{"-direction=sideways", "-dsn=x"}, wantErr: "unsupported direction"},
		{name: "negative steps", args: []string{"-steps=-1", "-dsn=x"}, wantErr: "-steps"},
		{name: "unknown flag", args: []string{"-force"}, wantErr: "flag provided but not defined"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseOptions(tc.args, lookupFrom(tc.env))
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRun_StatusUpDown(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("FO_POSTGRES_TEST_DSN"))
	if dsn == "" {
		t.Skip("FO_POSTGRES_TEST_DSN is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	if err := run(ctx, options{direction: "status", dsn: dsn}, &out); err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	require.Contains(t, out.String(), "migrate status ok")

	out.Reset()
	require.NoError(t, run(ctx, options{direction: "up", dsn: dsn}, &out))
	require.Contains(t, out.String(), "migrate up ok")
	require.NotContains(t, out.String(), "pending:")
}

func TestFailExits(t *testing.T) {
	if os.Getenv("MIGRATE_TEST_FAIL_EXIT") == "1" {
		fail("forced failure %d", 42)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestFailExits")
	cmd.Env = append(os.Environ(), "MIGRATE_TEST_FAIL_EXIT=1")
	err := cmd.Run()
	require.Error(t, err)
	exitErr, ok := err.(*exec.ExitError)
	require.True(t, ok)
	require.NotZero(t, exitErr.ExitCode())
}
