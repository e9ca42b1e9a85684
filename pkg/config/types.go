package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/mockstage/mockstage/pkg/mock"
)

// Default listener settings.
const (
	DefaultHTTPPort   = 8001
	DefaultMQTTPort   = 8002
	DefaultFTPPort    = 8003
	DefaultMinThreads = 10
	DefaultMaxThreads = 100
	DefaultTimeout    = 30 * time.Second
)

// Native property keys understood by the listeners.
const (
	// PropBrokerURL overrides the MQTT listener address ("tcp://0.0.0.0:1883").
	PropBrokerURL = "BROKER_URL"
	// PropEnableCORS makes the HTTP listener answer with permissive CORS headers.
	PropEnableCORS = "ENABLE_CORS"
	// PropProxyServerEnabled runs the intercepting proxy next to the HTTP listener.
	PropProxyServerEnabled = "PROXY_SERVER_ENABLED"
	// PropProxyServerPort is the port of that proxy.
	PropProxyServerPort = "PROXY_SERVER_PORT"
	// PropFTPRootDir is the directory FTP definitions are served from.
	PropFTPRootDir = "FTP_ROOT_DIR"
	// PropForwardWhenNoMatch names an origin every unmatched request is
	// forwarded to.
	PropForwardWhenNoMatch = "FORWARD_WHEN_NO_MATCH"
	// PropBindHost restricts the listener to one interface.
	PropBindHost = "BIND_HOST"
)

// ServerConfig is the configuration of one protocol listener.
type ServerConfig struct {
	Protocol mock.Protocol `json:"protocol" yaml:"protocol"`

	// Port is the TCP port to bind. 0 binds an ephemeral port.
	Port int `json:"port" yaml:"port"`

	// MinThreads is validated but otherwise informational.
	MinThreads int `json:"minThreads,omitempty" yaml:"minThreads,omitempty"`
	// MaxThreads bounds the number of connections served concurrently.
	MaxThreads int `json:"maxThreads,omitempty" yaml:"maxThreads,omitempty"`

	// Timeout bounds reads, writes and injected delays.
	Timeout mock.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// TLS serves the listener over TLS with the identity certificate.
	TLS bool `json:"secure,omitempty" yaml:"secure,omitempty"`

	AutoStart   bool `json:"autoStart,omitempty" yaml:"autoStart,omitempty"`
	AutoRefresh bool `json:"autoRefresh,omitempty" yaml:"autoRefresh,omitempty"`

	NativeProperties map[string]string `json:"nativeProperties,omitempty" yaml:"nativeProperties,omitempty"`
}

// DefaultServerConfig returns the default configuration for protocol.
func DefaultServerConfig(protocol mock.Protocol) ServerConfig {
	cfg := ServerConfig{
		Protocol:   protocol,
		MinThreads: DefaultMinThreads,
		MaxThreads: DefaultMaxThreads,
		Timeout:    mock.Duration(DefaultTimeout),
	}
	switch protocol {
	case mock.ProtocolMQTT:
		cfg.Port = DefaultMQTTPort
	case mock.ProtocolFTP:
		cfg.Port = DefaultFTPPort
	default:
		cfg.Port = DefaultHTTPPort
	}
	return cfg
}

// ApplyDefaults fills zero thread bounds and timeout with defaults.
func (c *ServerConfig) ApplyDefaults() {
	if c.MinThreads == 0 {
		c.MinThreads = DefaultMinThreads
	}
	if c.MaxThreads == 0 {
		c.MaxThreads = DefaultMaxThreads
	}
	if c.MinThreads > c.MaxThreads {
		c.MinThreads = c.MaxThreads
	}
	if c.Timeout == 0 {
		c.Timeout = mock.Duration(DefaultTimeout)
	}
}

// Native returns a native property, matching the key case-insensitively.
func (c *ServerConfig) Native(key string) string {
	if v, ok := c.NativeProperties[key]; ok {
		return v
	}
	for k, v := range c.NativeProperties {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// NativeBool reports whether a native property is set to a true value.
func (c *ServerConfig) NativeBool(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(c.Native(key)))
	return err == nil && b
}

// NativeInt returns a native property parsed as an int.
func (c *ServerConfig) NativeInt(key string) (int, bool) {
	v := strings.TrimSpace(c.Native(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Clone returns a deep copy.
func (c ServerConfig) Clone() ServerConfig {
	if c.NativeProperties != nil {
		props := make(map[string]string, len(c.NativeProperties))
		for k, v := range c.NativeProperties {
			props[k] = v
		}
		c.NativeProperties = props
	}
	return c
}

// CertConfig locates the certificate authority keystores.
type CertConfig struct {
	// Dir holds the identity keystore and the hosts/ subdirectory.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Name is the identity alias and the keystore file prefix.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	// KeyBits is the RSA key size for generated keys.
	KeyBits int `json:"keyBits,omitempty" yaml:"keyBits,omitempty"`
	// TrustAllServers skips origin certificate verification when intercepting.
	TrustAllServers bool `json:"trustAllServers,omitempty" yaml:"trustAllServers,omitempty"`
	// SendCerts presents the identity certificate to origins that ask for one.
	SendCerts bool `json:"sendCerts,omitempty" yaml:"sendCerts,omitempty"`
}

// Default certificate settings.
const (
	DefaultCertDir  = "certs"
	DefaultCertName = "mockstage"
)

// EngineFile is the on-disk configuration the CLI serves from.
type EngineFile struct {
	Certificates CertConfig         `json:"certificates,omitempty" yaml:"certificates,omitempty"`
	Servers      []ServerConfig     `json:"servers,omitempty" yaml:"servers,omitempty"`
	Definitions  []*mock.Definition `json:"definitions,omitempty" yaml:"definitions,omitempty"`
}

// Server returns the configuration for protocol, or the default one when the
// file has none.
func (f *EngineFile) Server(protocol mock.Protocol) (ServerConfig, bool) {
	for _, s := range f.Servers {
		if s.Protocol == protocol {
			return s.Clone(), true
		}
	}
	return DefaultServerConfig(protocol), false
}
