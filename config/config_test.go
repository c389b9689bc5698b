package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsAndEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CONTRACTFLOW_AUTH_JWT_SECRET", "s3cret")
	t.Setenv("CONTRACTFLOW_PAYMENTS_FEE_BPS", "300")
	t.Setenv("CONTRACTFLOW_GENERATOR_TIMEOUT", "5s")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", c.HTTP.Addr)
	require.Equal(t, "info", c.Log.Level)
	require.Equal(t, "s3cret", c.Auth.JWTSecret)
	require.EqualValues(t, 300, c.Payments.FeeBPS)
	require.Equal(t, 5*time.Second, c.Generator.Timeout)
	require.Equal(t, "CONTRACTFLOW_GENERATOR_API_KEY", c.Generator.APIKeyEnv)
	require.Empty(t, c.Database.URL)
}

func TestLoad_ReadsFileAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONTRACTFLOW_AUTH_JWT_SECRET=from-dotenv\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("CONTRACTFLOW_AUTH_JWT_SECRET") })

	cfgPath := filepath.Join(dir, "contractflow.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("http:\n  addr: \":9090\"\nlog:\n  format: json\n"), 0o600))
	t.Setenv("CONTRACTFLOW_CONFIG", cfgPath)

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", c.HTTP.Addr)
	require.Equal(t, "json", c.Log.Format)
	require.Equal(t, "from-dotenv", c.Auth.JWTSecret)
}

func TestValidate(t *testing.T) {
	c := Config{Auth: AuthConfig{JWTSecret: "x"}, Generator: GeneratorConfig{Timeout: time.Second}, Payments: PaymentsConfig{FeeBPS: 250}}
	require.NoError(t, c.Validate())

	c.Payments.FeeBPS = 20000
	require.Error(t, c.Validate())

	c.Payments.FeeBPS = 250
	c.Auth.JWTSecret = " "
	require.Error(t, c.Validate())
}
