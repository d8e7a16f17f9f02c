// Package server implements the connection dispatcher: it accepts TCP
// connections and hands each one to the configured concurrency
// back-end, which reads frames, drives a transfer.Service, and writes
// replies. The blocking and thread-per-connection back-ends share one
// per-connection loop (serveConn); the readiness and async back-ends
// run their own loops around the same transfer.Service.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/filewire/transferd/internal/config"
	"github.com/filewire/transferd/internal/observability"
	"github.com/filewire/transferd/internal/session"
)

// acceptPollInterval bounds how long the accept loop blocks before
// re-checking the shutdown flag, matching the "at least once per
// second" requirement across all back-ends.
const acceptPollInterval = 1 * time.Second

// Status reports a dispatcher's running state, for the external
// control surface.
type Status struct {
	Running        bool
	Host           string
	Port           int
	Strategy       config.Strategy
	ActiveSessions int
}

// Dispatcher accepts connections on one listener and serves them
// according to Strategy. Exactly one Dispatcher runs per daemon
// process.
type Dispatcher struct {
	Strategy config.Strategy
	Sessions *session.Manager
	Logger   *observability.Logger
	Metrics  *observability.Metrics

	mu       sync.Mutex
	listener net.Listener
	host     string
	port     int
	shutdown chan struct{}
	wg       sync.WaitGroup
	conns    map[net.Conn]struct{}
	connsMu  sync.Mutex
}

// NewDispatcher builds a Dispatcher using strategy as its concurrency
// back-end.
func NewDispatcher(strategy config.Strategy, sessions *session.Manager, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		Strategy: strategy,
		Sessions: sessions,
		Logger:   logger,
		Metrics:  metrics,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start binds (host, port) and begins accepting connections on the
// configured back-end. The listen backlog is the operating system's
// default; it is not set to a fixed value. It returns once the listener
// is bound; the accept loop runs in the background.
func (d *Dispatcher) Start(host string, port int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return fmt.Errorf("dispatcher already started")
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	d.listener = ln
	d.host = host
	d.port = port
	d.shutdown = make(chan struct{})

	var loop func()
	switch d.Strategy {
	case config.StrategyBlocking:
		loop = d.runBlocking
	case config.StrategyThreaded:
		loop = d.runThreaded
	case config.StrategyReadiness:
		loop = d.runReadiness
	case config.StrategyAsync:
		loop = d.runAsync
	default:
		loop = d.runThreaded
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		loop()
	}()

	return nil
}

// Stop sets the shutdown flag, closes the listener and every active
// connection, and waits for the back-end loop and every connection
// handler to finish before returning.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if d.listener == nil {
		d.mu.Unlock()
		return nil
	}
	close(d.shutdown)
	ln := d.listener
	d.mu.Unlock()

	_ = ln.Close()

	d.connsMu.Lock()
	for c := range d.conns {
		_ = c.Close()
	}
	d.connsMu.Unlock()

	d.wg.Wait()

	d.mu.Lock()
	d.listener = nil
	d.mu.Unlock()
	return nil
}

// Status reports the dispatcher's current state.
func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	running := d.listener != nil
	return Status{
		Running:        running,
		Host:           d.host,
		Port:           d.port,
		Strategy:       d.Strategy,
		ActiveSessions: d.Sessions.ActiveCount(),
	}
}

func (d *Dispatcher) isShuttingDown() bool {
	select {
	case <-d.shutdown:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) trackConn(c net.Conn) {
	d.connsMu.Lock()
	d.conns[c] = struct{}{}
	d.connsMu.Unlock()
}

func (d *Dispatcher) untrackConn(c net.Conn) {
	d.connsMu.Lock()
	delete(d.conns, c)
	d.connsMu.Unlock()
}

// acceptOne accepts a single connection, applying the shared accept
// timeout so callers can re-poll the shutdown flag on a regular
// cadence regardless of back-end.
func (d *Dispatcher) acceptOne() (net.Conn, error) {
	if tc, ok := d.listener.(*net.TCPListener); ok {
		_ = tc.SetDeadline(time.Now().Add(acceptPollInterval))
	}
	return d.listener.Accept()
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
