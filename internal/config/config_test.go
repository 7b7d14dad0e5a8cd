package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(EnvConfigFile, "")
	t.Setenv("API_PORT", "")

	cfg, err := Load("")
	require.NoError(t, err)

	d := Defaults()
	assert.Equal(t, d.DBURL, cfg.DBURL)
	assert.Equal(t, d.APIURL, cfg.APIURL)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "none", cfg.OTelExporter)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowboard.yaml")
	content := `
db_url: postgresql://file/db
api_port: "9000"
log_format: text
http_timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("API_PORT", "9100")
	t.Setenv("AMQP_URL", "amqp://guest:guest@mq:5672/")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgresql://file/db", cfg.DBURL)
	assert.Equal(t, "9100", cfg.APIPort, "env overrides file")
	assert.Equal(t, ":9100", cfg.Addr())
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.AMQPURL)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
}

func TestLoad_ConfigFromEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_url: http://remote:8080\n"), 0o644))
	t.Setenv(EnvConfigFile, path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://remote:8080", cfg.APIURL)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv(EnvConfigFile, "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_format: xml\notel_exporter: zipkin\n"), 0o644))

	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
	assert.Contains(t, err.Error(), "otel_exporter")
}
