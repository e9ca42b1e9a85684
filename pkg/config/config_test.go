package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockstage/mockstage/pkg/mock"
)

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		protocol mock.Protocol
		port     int
	}{
		{mock.ProtocolHTTP, 8001},
		{mock.ProtocolMQTT, 8002},
		{mock.ProtocolFTP, 8003},
	}
	for _, tt := range tests {
		cfg := DefaultServerConfig(tt.protocol)
		assert.Equal(t, tt.port, cfg.Port)
		assert.Equal(t, 10, cfg.MinThreads)
		assert.Equal(t, 100, cfg.MaxThreads)
		assert.Equal(t, 30*time.Second, cfg.Timeout.Duration())
		assert.NoError(t, cfg.Validate())
	}
}

func TestServerConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() ServerConfig { return DefaultServerConfig(mock.ProtocolHTTP) }

	tests := []struct {
		name      string
		mutate    func(*ServerConfig)
		wantField string
	}{
		{name: "valid", mutate: func(*ServerConfig) {}},
		{name: "ephemeral port", mutate: func(c *ServerConfig) { c.Port = 0 }},
		{name: "unknown protocol", mutate: func(c *ServerConfig) { c.Protocol = "smtp" }, wantField: "protocol"},
		{name: "port too large", mutate: func(c *ServerConfig) { c.Port = 70000 }, wantField: "port"},
		{name: "negative port", mutate: func(c *ServerConfig) { c.Port = -1 }, wantField: "port"},
		{name: "zero max threads", mutate: func(c *ServerConfig) { c.MaxThreads = 0 }, wantField: "maxThreads"},
		{name: "min above max", mutate: func(c *ServerConfig) { c.MinThreads = 200 }, wantField: "minThreads"},
		{name: "zero timeout", mutate: func(c *ServerConfig) { c.Timeout = 0 }, wantField: "timeout"},
		{
			name: "proxy port missing",
			mutate: func(c *ServerConfig) {
				c.NativeProperties = map[string]string{PropProxyServerEnabled: "true"}
			},
			wantField: PropProxyServerPort,
		},
		{
			name: "proxy port same as listener",
			mutate: func(c *ServerConfig) {
				c.NativeProperties = map[string]string{PropProxyServerEnabled: "true", PropProxyServerPort: "8001"}
			},
			wantField: PropProxyServerPort,
		},
		{
			name: "proxy port ok",
			mutate: func(c *ServerConfig) {
				c.NativeProperties = map[string]string{"proxy_server_enabled": "TRUE", PropProxyServerPort: "8010"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr), "want ConfigError, got %v", err)
			assert.Equal(t, tt.wantField, cerr.Field)
		})
	}
}

func TestServerConfig_ApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{Protocol: mock.ProtocolHTTP, MaxThreads: 4}
	cfg.ApplyDefaults()
	assert.Equal(t, 4, cfg.MinThreads, "min clamps to max")
	assert.Equal(t, 4, cfg.MaxThreads)
	assert.Equal(t, DefaultTimeout, cfg.Timeout.Duration())
}

func TestServerConfig_Clone(t *testing.T) {
	t.Parallel()

	cfg := ServerConfig{NativeProperties: map[string]string{PropEnableCORS: "true"}}
	clone := cfg.Clone()
	clone.NativeProperties[PropEnableCORS] = "false"
	assert.True(t, cfg.NativeBool(PropEnableCORS))
}

func TestLoadFromFile_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
servers:
  - protocol: http
    port: 0
    autoStart: true
    timeout: 5s
    nativeProperties:
      ENABLE_CORS: "true"
definitions:
  - protocol: http
    method: GET
    path: /status
    type: single
    response:
      status: 200
      body: '{"ok":true}'
  - protocol: mqtt
    topic: orders/+
    type: single
    response:
      body: ack
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	file, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultCertDir, file.Certificates.Dir)
	assert.Equal(t, DefaultCertName, file.Certificates.Name)

	require.Len(t, file.Servers, 1)
	assert.Equal(t, 5*time.Second, file.Servers[0].Timeout.Duration())
	assert.Equal(t, DefaultMaxThreads, file.Servers[0].MaxThreads)
	assert.True(t, file.Servers[0].NativeBool(PropEnableCORS))

	require.Len(t, file.Definitions, 2)
	assert.NotEmpty(t, file.Definitions[0].ID)
	assert.True(t, file.Definitions[1].CreatedAt.After(file.Definitions[0].CreatedAt))

	mqttCfg, found := file.Server(mock.ProtocolMQTT)
	assert.False(t, found)
	assert.Equal(t, DefaultMQTTPort, mqttCfg.Port)
}

func TestLoadFromFile_JSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.json")
	content := `{"servers":[{"protocol":"ftp","port":2121}],"definitions":[{"protocol":"ftp","name":"inbox"}]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	file, err := LoadFromFile(path)
	require.NoError(t, err)
	cfg, found := file.Server(mock.ProtocolFTP)
	assert.True(t, found)
	assert.Equal(t, 2121, cfg.Port)
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadFromFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	_, err = LoadFromFile(empty)
	assert.ErrorIs(t, err, ErrEmptyFile)

	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{"), 0o600))
	_, err = LoadFromFile(badJSON)
	assert.ErrorIs(t, err, ErrInvalidJSON)

	badYAML := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(badYAML, []byte("servers: [\n"), 0o600))
	_, err = LoadFromFile(badYAML)
	assert.ErrorIs(t, err, ErrInvalidYAML)

	_, err = LoadFromFile(dir)
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, FormatYAML, FormatFor("engine.YML"))
	assert.Equal(t, FormatYAML, FormatFor("/etc/mockstage/engine.yaml"))
	assert.Equal(t, FormatJSON, FormatFor("engine.conf"))

	_, err := Decode([]byte(`{"servers": [}`), FormatJSON)
	assert.ErrorIs(t, err, ErrInvalidJSON)
	assert.Contains(t, err.Error(), "offset")

	_, err = Decode([]byte(`{"servers": "http"}`), FormatJSON)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidJSON, "type errors are not syntax errors")

	_, err = Decode([]byte(`{}`), Format("toml"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"definitions":[null]}`), FormatJSON)
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "definitions[0]", cerr.Field)

	file, err := Decode([]byte(`{"definitions":[{"id":"keep","protocol":"ftp","name":"inbox"}]}`), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "keep", file.Definitions[0].ID)
	assert.False(t, file.Definitions[0].CreatedAt.IsZero())

	blank := filepath.Join(t.TempDir(), "blank.json")
	require.NoError(t, os.WriteFile(blank, []byte("  \n\t"), 0o600))
	_, err = LoadFromFile(blank)
	assert.ErrorIs(t, err, ErrEmptyFile)
}

func TestLoadFromFile_ValidationErrors(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "engine.yaml")
	content := `
servers:
  - protocol: http
    port: 99999
definitions:
  - protocol: http
    path: no-slash
    response: {}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadFromFile(path)
	require.Error(t, err)

	var cerr *ConfigError
	assert.True(t, errors.As(err, &cerr))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestEngineFile_DuplicateServer(t *testing.T) {
	t.Parallel()

	f := &EngineFile{Servers: []ServerConfig{
		DefaultServerConfig(mock.ProtocolHTTP),
		DefaultServerConfig(mock.ProtocolHTTP),
	}}
	var cerr *ConfigError
	require.True(t, errors.As(f.Validate(), &cerr))
	assert.Equal(t, "servers[1]", cerr.Field)
}
