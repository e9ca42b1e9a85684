package engine

import (
	"errors"
	"fmt"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/mock"
)

// ErrAlreadyRunning is returned by Start when the protocol's listener is not
// STOPPED or FAILED.
var ErrAlreadyRunning = errors.New("listener already running")

// ErrNoListener is returned when no ListenerFactory is registered for a
// protocol.
var ErrNoListener = errors.New("no listener registered for protocol")

// ConfigError describes an invalid listener configuration.
type ConfigError = config.ConfigError

// ValidationError describes an invalid definition or request.
type ValidationError = mock.ValidationError

// BindError reports a listener that could not bind its port.
type BindError struct {
	Protocol mock.Protocol
	Port     int
	Err      error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s listener: bind port %d: %v", e.Protocol, e.Port, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a request no definition answers.
type NotFoundError struct {
	Protocol mock.Protocol
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no %s definition matches %s", e.Protocol, e.Key)
}
