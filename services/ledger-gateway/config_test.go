package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":8490", cfg.ListenAddress)
	require.Equal(t, "remainder_to_platform", cfg.Rounding)
	require.Equal(t, 5, cfg.Settlement.MaxAttempts)
	require.Equal(t, 0.6, cfg.Compliance.ViolationFloor)
	require.Equal(t, 0.9, cfg.Compliance.RecoveryFloor)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":9000"
env: staging
database: /var/lib/ledger/ledger.db
rounding_policy: remainder_to_counterparty
settlement:
  endpoint: https://settle.example.com
  timeout: 5s
  max_attempts: 3
  base_backoff: 500ms
  max_backoff: 10s
compliance:
  interval: 30s
  violation_floor: 0.5
  recovery_floor: 0.8
ingest:
  rate_per_second: 10
  burst: 20
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)
	require.Equal(t, "staging", cfg.Environment)
	require.Equal(t, "/var/lib/ledger/ledger.db", cfg.DatabasePath)
	require.Equal(t, "remainder_to_counterparty", cfg.Rounding)
	require.Equal(t, "https://settle.example.com", cfg.Settlement.Endpoint)
	require.Equal(t, 5*time.Second, cfg.Settlement.Timeout.Duration)
	require.Equal(t, 3, cfg.Settlement.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, cfg.Settlement.BaseBackoff.Duration)
	require.Equal(t, 30*time.Second, cfg.Compliance.Interval.Duration)
	require.Equal(t, 0.5, cfg.Compliance.ViolationFloor)
	require.Equal(t, float64(10), cfg.Ingest.RatePerSecond)
}

func TestLoadConfigPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "listen: \":7000\"\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, 5, cfg.Settlement.MaxAttempts)
	require.Equal(t, 0.9, cfg.Compliance.RecoveryFloor)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad rounding":   "rounding_policy: round_half_up\n",
		"blank listen":   "listen: \"  \"\n",
		"zero attempts":  "settlement:\n  max_attempts: 0\n",
		"floor too high": "compliance:\n  violation_floor: 1.5\n",
		"inverted floors": `
compliance:
  violation_floor: 0.8
  recovery_floor: 0.5
`,
		"bad duration": "settlement:\n  timeout: soon\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, contents)
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
