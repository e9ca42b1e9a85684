package ftpmock

import (
	"context"
	"crypto/tls"
	"net"

	ftpserver "github.com/fclairamb/ftpserverlib"
)

const banner = "mockstage FTP ready"

// driver adapts the listener to ftpserverlib.
type driver struct {
	listener    *Listener
	listenerNet net.Listener
}

// GetSettings returns the server settings.
func (d *driver) GetSettings() (*ftpserver.Settings, error) {
	timeout := int(d.listener.cfg.Timeout.Duration().Seconds())
	if timeout < 1 {
		timeout = 1
	}
	return &ftpserver.Settings{
		Listener:          d.listenerNet,
		ListenAddr:        d.listenerNet.Addr().String(),
		ConnectionTimeout: timeout,
		Banner:            banner,
	}, nil
}

// ClientConnected tracks a new client.
func (d *driver) ClientConnected(cc ftpserver.ClientContext) (string, error) {
	d.listener.clientConnected(cc)
	d.listener.log.Debug("ftp client connected", "client", cc.ID(), "remote", cc.RemoteAddr().String())
	return banner, nil
}

// ClientDisconnected forgets a client.
func (d *driver) ClientDisconnected(cc ftpserver.ClientContext) {
	d.listener.clientDisconnected(cc)
	d.listener.log.Debug("ftp client disconnected", "client", cc.ID())
}

// AuthUser logs user in when an active definition's name matches it. The
// password is the user name and the home is the directory of that name.
func (d *driver) AuthUser(cc ftpserver.ClientContext, user, pass string) (ftpserver.ClientDriver, error) {
	l := d.listener
	if _, err := l.definition(context.Background(), user); err != nil || pass != user {
		l.log.Info("ftp login refused", "user", user, "remote", cc.RemoteAddr().String())
		return nil, ErrAuthFailed
	}
	home, err := l.storage.Home(user)
	if err != nil {
		l.log.Error("ftp home unavailable", "user", user, "error", err)
		return nil, err
	}
	return home, nil
}

// GetTLSConfig returns the identity certificate configuration for AUTH TLS.
func (d *driver) GetTLSConfig() (*tls.Config, error) {
	l := d.listener
	if !l.cfg.TLS || l.run.Certs == nil {
		return nil, ErrTLSDisabled
	}
	return l.run.Certs.ServerConfig(DefaultTLSHost), nil
}
