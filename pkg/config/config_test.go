package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conductor/pkg/config/provider"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "simple", cfg.Logger.Format)
	assert.True(t, cfg.MCP.IsEnabled())
	assert.Equal(t, "/mcp", cfg.MCP.Path)
	assert.Equal(t, "mcp_user", cfg.MCP.DefaultUser)
	assert.True(t, cfg.Agents.DocumentEditor.IsEnabled())
	assert.Equal(t, "hash", cfg.DocStore.Embedder.Provider)
	assert.False(t, cfg.Archive.Enabled)
	assert.Equal(t, "http://localhost:8080", cfg.Server.ResolvedBaseURL())
}

func TestParseYAML(t *testing.T) {
	doc := `
server:
  port: 9090
  base_url: https://conductor.example.com
  write_timeout: 90s
orchestrator:
  max_concurrent: 2
  task_timeout: 1m
archive:
  enabled: true
events:
  redis:
    enabled: true
  kafka:
    enabled: true
    brokers: "k1:9092,k2:9092"
agents:
  document_editor:
    enabled: false
  remote:
    - type: summarizer
      endpoint: http://summarizer:8080/a2a/agents/summarizer
      actions:
        - name: summarize
          description: Summarize text
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "https://conductor.example.com", cfg.Server.ResolvedBaseURL())
	assert.Equal(t, 2, cfg.Orchestrator.MaxConcurrent)
	assert.Equal(t, time.Minute, cfg.Orchestrator.TaskTimeout)

	assert.Equal(t, "sqlite", cfg.Archive.Database.Driver)
	assert.Equal(t, "./data/conductor.db", cfg.Archive.Database.Database)
	assert.Equal(t, "sqlite3", cfg.Archive.Database.DriverName())

	assert.Equal(t, "localhost:6379", cfg.Events.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)

	assert.False(t, cfg.Agents.DocumentEditor.IsEnabled())
	require.Len(t, cfg.Agents.Remote, 1)
	remote := cfg.Agents.Remote[0]
	assert.Equal(t, "summarizer", remote.Name)
	assert.Equal(t, 30*time.Second, remote.Timeout)
	assert.Equal(t, "summarize", remote.Actions[0].Name)
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"server": {"port": 7000}, "mcp": {"enabled": false}}`))
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.False(t, cfg.MCP.IsEnabled())
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_SECRET", "s3cret")
	t.Setenv("CONDUCTOR_TEST_PORT", "8181")
	t.Setenv("CONDUCTOR_TEST_MCP", "false")

	doc := `
server:
  port: ${CONDUCTOR_TEST_PORT}
auth:
  enabled: true
  secret: $CONDUCTOR_TEST_SECRET
  issuer: ${CONDUCTOR_TEST_ISSUER:-conductor}
mcp:
  enabled: ${CONDUCTOR_TEST_MCP}
`
	cfg, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "conductor", cfg.Auth.Issuer)
	assert.False(t, cfg.MCP.IsEnabled())
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"bad port", "server: {port: 70000}", "server: port must be between"},
		{"auth without key", "auth: {enabled: true}", "auth: jwks_url or secret"},
		{"auth with both keys", "auth: {enabled: true, secret: x, jwks_url: http://x}", "mutually exclusive"},
		{"bad log level", "logger: {level: loud}", "invalid log level"},
		{"bad driver", "archive: {enabled: true, database: {driver: oracle, database: x}}", "invalid driver"},
		{"postgres without host", "archive: {enabled: true, database: {driver: postgres, database: tasks}}", "host is required"},
		{"kafka without brokers", "events: {kafka: {enabled: true}}", "kafka: at least one broker"},
		{"remote without endpoint", "agents: {remote: [{type: x, actions: [{name: a}]}]}", "endpoint is required"},
		{"remote without actions", "agents: {remote: [{type: x, endpoint: http://x}]}", "at least one action"},
		{"remote shadows editor", "agents: {remote: [{type: document_editor, endpoint: http://x, actions: [{name: a}]}]}", "duplicate agent type"},
		{"unknown embedder", "docstore: {embedder: {provider: magic}}", "unknown provider"},
		{"mcp relative path", "mcp: {path: mcp}", "must start with /"},
		{"unknown key", "servr: {port: 1}", "invalid keys"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateReportsAllSections(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	cfg.Server.Port = -1
	cfg.Orchestrator.MaxConcurrent = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server:")
	assert.Contains(t, err.Error(), "orchestrator:")
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Database: "tasks", Username: "u", Password: "p"}
	pg.SetDefaults()
	assert.Equal(t, "host=db port=5432 dbname=tasks user=u password=p sslmode=disable", pg.DSN())
	assert.Equal(t, "postgres", pg.Dialect())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Database: "tasks", Username: "u", Password: "p"}
	my.SetDefaults()
	assert.Equal(t, "u:p@tcp(db:3306)/tasks?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite3", Database: "/tmp/x.db"}
	assert.Equal(t, "/tmp/x.db", lite.DSN())
	assert.Equal(t, "sqlite", lite.Dialect())
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CONDUCTOR_A", "alpha")
	assert.Equal(t, "alpha-alpha", ExpandEnv("$CONDUCTOR_A-${CONDUCTOR_A}"))
	assert.Equal(t, "fallback", ExpandEnv("${CONDUCTOR_UNSET_VAR:-fallback}"))
	assert.Equal(t, "", ExpandEnv("${CONDUCTOR_UNSET_VAR}"))
	assert.Equal(t, "plain", ExpandEnv("plain"))
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"), []byte("CONDUCTOR_ENV_A=local\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CONDUCTOR_ENV_A=shared\nCONDUCTOR_ENV_B=shared\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("CONDUCTOR_ENV_A")
		os.Unsetenv("CONDUCTOR_ENV_B")
	})

	require.NoError(t, LoadEnvFiles(dir))
	assert.Equal(t, "local", os.Getenv("CONDUCTOR_ENV_A"))
	assert.Equal(t, "shared", os.Getenv("CONDUCTOR_ENV_B"))

	assert.NoError(t, LoadEnvFiles(t.TempDir()))
}

func TestLoaderWithStaticProvider(t *testing.T) {
	l := NewLoader(provider.NewStaticProvider([]byte("server: {port: 9000}")))
	cfg, err := l.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Watch(ctx), context.Canceled)
	assert.NoError(t, l.Close())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8282\n"), 0o600))

	cfg, l, err := LoadConfigFile(context.Background(), path)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, 8282, cfg.Server.Port)

	_, _, err = LoadConfigFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoaderWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conductor.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8282\n"), 0o600))

	reloaded := make(chan *Config, 4)
	_, l, err := LoadConfigFile(context.Background(), path, WithOnChange(func(c *Config) {
		reloaded <- c
	}))
	require.NoError(t, err)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = l.Watch(ctx) }()

	// Give the watcher time to register before writing.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8383\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 8383, cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "Conductor Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"server", "auth", "orchestrator", "archive", "events", "mcp", "agents"} {
		assert.Contains(t, props, key)
	}
}

func TestProviderNew(t *testing.T) {
	_, err := provider.New(provider.Options{Type: provider.TypeFile})
	assert.Error(t, err)

	p, err := provider.New(provider.Options{Type: provider.TypeStatic, Data: []byte("x: 1")})
	require.NoError(t, err)
	assert.Equal(t, provider.TypeStatic, p.Type())

	for in, want := range map[string]provider.Type{
		"":          provider.TypeFile,
		"file":      provider.TypeFile,
		"Consul":    provider.TypeConsul,
		"etcd":      provider.TypeEtcd,
		"zk":        provider.TypeZookeeper,
		"zookeeper": provider.TypeZookeeper,
	} {
		typ, err := provider.ParseType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, typ, in)
	}
	_, err = provider.ParseType("vault")
	assert.Error(t, err)
}
