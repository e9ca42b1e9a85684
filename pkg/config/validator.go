package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/mockstage/mockstage/pkg/mock"
)

// ConfigError describes an invalid listener or engine configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

// ValidationError is re-exported so callers can match definition errors
// without importing pkg/mock.
type ValidationError = mock.ValidationError

// Validate checks the listener configuration.
func (c *ServerConfig) Validate() error {
	switch c.Protocol {
	case mock.ProtocolHTTP, mock.ProtocolFTP, mock.ProtocolMQTT:
	default:
		return &ConfigError{Field: "protocol", Message: fmt.Sprintf("unknown protocol %q", c.Protocol)}
	}
	if c.Port < 0 || c.Port > 65535 {
		return &ConfigError{Field: "port", Message: fmt.Sprintf("must be between 0 and 65535, got %d", c.Port)}
	}
	if c.MinThreads < 0 {
		return &ConfigError{Field: "minThreads", Message: "must not be negative"}
	}
	if c.MaxThreads < 1 {
		return &ConfigError{Field: "maxThreads", Message: "must be at least 1"}
	}
	if c.MinThreads > c.MaxThreads {
		return &ConfigError{Field: "minThreads", Message: "must not exceed maxThreads"}
	}
	if c.Timeout <= 0 {
		return &ConfigError{Field: "timeout", Message: "must be positive"}
	}

	if c.NativeBool(PropProxyServerEnabled) {
		if c.Protocol != mock.ProtocolHTTP {
			return &ConfigError{Field: PropProxyServerEnabled, Message: "only supported on the http listener"}
		}
		port, ok := c.NativeInt(PropProxyServerPort)
		if !ok || port < 0 || port > 65535 {
			return &ConfigError{Field: PropProxyServerPort, Message: "must be a port number"}
		}
		if port != 0 && port == c.Port {
			return &ConfigError{Field: PropProxyServerPort, Message: "must differ from the listener port"}
		}
	}
	if origin := c.Native(PropForwardWhenNoMatch); origin != "" {
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ConfigError{Field: PropForwardWhenNoMatch, Message: "must be an http or https origin"}
		}
	}
	if broker := c.Native(PropBrokerURL); broker != "" && c.Protocol == mock.ProtocolMQTT {
		if !strings.HasPrefix(broker, "tcp://") {
			return &ConfigError{Field: PropBrokerURL, Message: "must be a tcp:// address"}
		}
	}
	return nil
}

// Validate checks every server and definition in the file.
func (f *EngineFile) Validate() error {
	seen := make(map[mock.Protocol]bool)
	var errs []error
	for i := range f.Servers {
		s := &f.Servers[i]
		if seen[s.Protocol] {
			errs = append(errs, &ConfigError{Field: fmt.Sprintf("servers[%d]", i), Message: fmt.Sprintf("duplicate %s server", s.Protocol)})
			continue
		}
		seen[s.Protocol] = true
		if err := s.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("servers[%d]: %w", i, err))
		}
	}
	for i, d := range f.Definitions {
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("definitions[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
