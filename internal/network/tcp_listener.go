package network

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Listener accepts player connections on one TCP port and hands them to the
// reactor over a channel. Connections from an IP exceeding its accept rate
// are closed immediately.
type Listener struct {
	name     string
	addr     string
	limiter  *IPLimiter
	listener net.Listener
	conns    chan *Connection
	logger   zerolog.Logger
}

// NewListener creates a listener for addr. name is used in logs ("game",
// "reconnect"). limiter may be nil.
func NewListener(name, addr string, limiter *IPLimiter) *Listener {
	return &Listener{
		name:    name,
		addr:    addr,
		limiter: limiter,
		conns:   make(chan *Connection, 16),
		logger:  log.With().Str("component", "listener").Str("listener", name).Logger(),
	}
}

// Listen binds the socket. It is separate from Serve so bind errors surface
// before the accept goroutine starts.
func (l *Listener) Listen(ctx context.Context) error {
	lc := ReuseAddrListenConfig(false)
	ln, err := lc.Listen(ctx, "tcp4", l.addr)
	if err != nil {
		return fmt.Errorf("failed to start %s listener on %s: %w", l.name, l.addr, err)
	}
	l.listener = ln
	l.logger.Info().Str("addr", ln.Addr().String()).Msg("listener started")
	return nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Accepted delivers accepted connections.
func (l *Listener) Accepted() <-chan *Connection {
	return l.conns
}

// Serve accepts connections until ctx is cancelled.
func (l *Listener) Serve(ctx context.Context) error {
	if l.listener == nil {
		if err := l.Listen(ctx); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		l.listener.Close()
	}()

	for {
		raw, err := l.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				l.logger.Info().Msg("listener stopping")
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error().Err(err).Msg("failed to accept connection")
			continue
		}

		if l.limiter != nil {
			host, _, _ := net.SplitHostPort(raw.RemoteAddr().String())
			if !l.limiter.Allow(host) {
				l.logger.Warn().Str("remote", host).Msg("accept rate exceeded, dropping connection")
				raw.Close()
				continue
			}
		}

		if tcp, ok := raw.(*net.TCPConn); ok {
			tcp.SetNoDelay(true)
		}

		l.logger.Debug().Str("remote", raw.RemoteAddr().String()).Msg("new connection")
		conn := NewConnection(raw)
		select {
		case l.conns <- conn:
		case <-ctx.Done():
			conn.Close()
			return nil
		}
	}
}

// Stop closes the listening socket.
func (l *Listener) Stop() error {
	if l.listener != nil {
		return l.listener.Close()
	}
	return nil
}
