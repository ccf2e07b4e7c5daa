package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cdpchain/native/vault"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: fixed
    type: static
    price: "2000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7080", cfg.ListenAddress)
	require.Equal(t, "/var/data/vaultd-state", cfg.StatePath)
	require.Equal(t, 24*time.Hour, cfg.Oracle.Retention.Duration)
	require.Equal(t, 30*time.Second, cfg.Oracle.Interval.Duration)
	require.Equal(t, 2*time.Minute, cfg.Oracle.MaxAge.Duration)
	require.Equal(t, 1, cfg.Oracle.MinFeeds)
	require.Equal(t, "ETH", cfg.Assets.Collateral)
	require.Equal(t, "CUSD", cfg.Assets.DebtToken)

	params, err := cfg.Risk.Params()
	require.NoError(t, err)
	require.Equal(t, vault.DefaultParams().CollateralRatio, params.CollateralRatio)
	require.True(t, params.MinDebt.Eq(vault.DefaultParams().MinDebt))
}

func TestLoadRejectsUnknownSourceType(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: mystery
    type: carrier-pigeon
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown oracle type")
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
listen: ":1"
unexpected: true
sources:
  - name: fixed
    type: static
    price: "1"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsIncoherentRisk(t *testing.T) {
	path := writeConfig(t, `
sources:
  - name: fixed
    type: static
    price: "2000"
risk:
  collateral_ratio: 120
`)
	_, err := Load(path)
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "risk:"), err.Error())
}

func TestLoadRejectsMinFeedsAboveSources(t *testing.T) {
	path := writeConfig(t, `
oracle:
  min_feeds: 2
sources:
  - name: fixed
    type: static
    price: "2000"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestRiskOverrides(t *testing.T) {
	risk := RiskConfig{
		CollateralRatio:      200,
		LiquidationThreshold: 150,
		MinDebt:              "1.5",
		MaxPriceAge:          Duration{Duration: 10 * time.Minute},
	}
	params, err := risk.Params()
	require.NoError(t, err)
	require.Equal(t, uint64(200), params.CollateralRatio)
	require.Equal(t, uint64(150), params.LiquidationThreshold)
	require.Equal(t, "1500000000000000000", params.MinDebt.Dec())
	require.Equal(t, 10*time.Minute, params.MaxPriceAge)
}

func TestAuthSecretPrefersEnvironment(t *testing.T) {
	t.Setenv("VAULTD_TEST_SECRET", "from-env")
	auth := AuthConfig{HMACSecret: "inline", SecretEnv: "VAULTD_TEST_SECRET"}
	require.Equal(t, "from-env", auth.Secret())
	auth.SecretEnv = "VAULTD_UNSET_SECRET"
	require.Equal(t, "inline", auth.Secret())
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.yaml"))
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)
	require.Equal(t, "VAULTD_JWT_SECRET", cfg.Auth.SecretEnv)
	require.Equal(t, "/var/data/vaultd-state", cfg.StatePath)
}

func TestLoadReadsStatePath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
state_path: "`+dir+`"
oracle:
  retention: 2h
sources:
  - name: fixed
    type: static
    price: "2000"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, dir, cfg.StatePath)
	require.Equal(t, 2*time.Hour, cfg.Oracle.Retention.Duration)
}
