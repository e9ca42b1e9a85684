package ftpmock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	ftpserver "github.com/fclairamb/ftpserverlib"
	"golang.org/x/net/netutil"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/logging"
	"github.com/mockstage/mockstage/pkg/mock"
)

// ErrAuthFailed is returned to clients whose user is not an active
// definition or whose password does not match.
var ErrAuthFailed = errors.New("authentication failed")

// ErrTLSDisabled is returned to clients asking for TLS on a plain listener.
var ErrTLSDisabled = errors.New("TLS is not enabled")

// DefaultTLSHost is the name the listener's certificate is issued for.
const DefaultTLSHost = "localhost"

// Listener serves FTP definitions.
type Listener struct {
	run     *engine.Run
	cfg     config.ServerConfig
	log     *slog.Logger
	storage *Storage

	mu      sync.Mutex
	server  *ftpserver.FtpServer
	port    int
	clients map[uint32]ftpserver.ClientContext
	done    chan struct{}
}

// Factory builds a Listener for the supervisor.
func Factory(run *engine.Run) (engine.Listener, error) {
	return New(run)
}

// New creates a Listener for run. Files are served from FTP_ROOT_DIR.
func New(run *engine.Run) (*Listener, error) {
	if run == nil || run.Matcher == nil {
		return nil, errors.New("ftpmock: run has no matcher")
	}
	log := run.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Listener{
		run:     run,
		cfg:     run.Config,
		log:     log,
		storage: NewStorage(run.Config.Native(config.PropFTPRootDir)),
		clients: make(map[uint32]ftpserver.ClientContext),
	}, nil
}

// Storage returns the directory tree the listener serves.
func (l *Listener) Storage() *Storage {
	return l.storage
}

// Store uploads r as fileName into the directory of the active definition
// named defName.
func (l *Listener) Store(ctx context.Context, defName, fileName string, r io.Reader) error {
	def, err := l.definition(ctx, defName)
	if err != nil {
		return err
	}
	if err := l.storage.Store(defName, fileName, r); err != nil {
		return err
	}
	l.log.Info("file stored", "definition", def.ID, "dir", defName, "file", fileName)
	return nil
}

func (l *Listener) definition(ctx context.Context, name string) (*mock.Definition, error) {
	if err := validateName("name", name); err != nil {
		return nil, err
	}
	defs, err := l.run.Definitions(ctx)
	if err != nil {
		return nil, err
	}
	def, _ := l.run.Matcher.Resolve(&mock.Request{Path: name}, defs)
	if def == nil {
		return nil, &engine.NotFoundError{Protocol: mock.ProtocolFTP, Key: name}
	}
	return def, nil
}

// Start binds the control port and begins accepting clients.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.server != nil {
		return engine.ErrAlreadyRunning
	}
	if l.cfg.TLS && l.run.Certs == nil {
		return &config.ConfigError{Field: "secure", Message: "requires a certificate authority"}
	}
	if err := l.storage.fs.MkdirAll(l.storage.Root(), 0o755); err != nil {
		return &config.ConfigError{Field: config.PropFTPRootDir, Message: err.Error()}
	}

	addr := net.JoinHostPort(l.cfg.Native(config.PropBindHost), strconv.Itoa(l.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	l.port = ln.Addr().(*net.TCPAddr).Port
	if l.cfg.MaxThreads > 0 {
		ln = netutil.LimitListener(ln, l.cfg.MaxThreads)
	}

	server := ftpserver.NewFtpServer(&driver{listener: l, listenerNet: ln})
	if err := server.Listen(); err != nil {
		_ = ln.Close()
		return err
	}

	l.server = server
	l.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := server.Serve(); err != nil {
			l.log.Debug("FTP server stopped", "error", err)
		}
	}(l.done)
	return nil
}

// Port returns the bound control port.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port
}

// Shutdown stops accepting, disconnects every client and waits for the
// server loop to end.
func (l *Listener) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	server, done := l.server, l.done
	l.server = nil
	clients := make([]ftpserver.ClientContext, 0, len(l.clients))
	for _, cc := range l.clients {
		clients = append(clients, cc)
	}
	l.mu.Unlock()

	if server == nil {
		return nil
	}
	err := server.Stop()
	for _, cc := range clients {
		_ = cc.Close()
	}

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
	return err
}

// Close stops the server without waiting.
func (l *Listener) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return l.Shutdown(ctx)
}

func (l *Listener) clientConnected(cc ftpserver.ClientContext) {
	l.mu.Lock()
	l.clients[cc.ID()] = cc
	l.mu.Unlock()
}

func (l *Listener) clientDisconnected(cc ftpserver.ClientContext) {
	l.mu.Lock()
	delete(l.clients, cc.ID())
	l.mu.Unlock()
}
