package sshpool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/warden/pkg/events"
	"github.com/cuemby/warden/pkg/log"
	"github.com/cuemby/warden/pkg/metrics"
	"golang.org/x/crypto/ssh"
)

var (
	// ErrPoolExhausted is returned when the pool is at capacity and no
	// entry can be reused for the requested host
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrConnectionBusy is returned when the host's single pooled
	// connection is currently borrowed
	ErrConnectionBusy = errors.New("connection in use")

	// ErrPoolClosed is returned after CloseAll
	ErrPoolClosed = errors.New("connection pool closed")
)

// Params describes how to reach one host
type Params struct {
	Address        string
	Port           int
	User           string
	PrivateKey     []byte
	ConnectTimeout time.Duration
}

// DialFunc establishes an SSH connection; replaceable for testing
type DialFunc func(ctx context.Context, params Params) (*ssh.Client, error)

// entry is owned exclusively by the pool. Callers borrow the client for
// one command and must return it via Release.
type entry struct {
	client    *ssh.Client
	host      string
	createdAt time.Time
	lastUsed  time.Time
	inUse     bool
}

// Options configures a Pool
type Options struct {
	MaxConnections int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
	SweepInterval  time.Duration
	Dial           DialFunc
	Broker         *events.Broker
}

// Pool maintains reusable SSH connections keyed by lowercased host name.
// At most one entry exists per host; size never exceeds MaxConnections.
type Pool struct {
	mu      sync.Mutex
	entries map[string]*entry
	opts    Options
	stopCh  chan struct{}
	stopped bool
}

// New creates a connection pool. Zero option fields get defaults:
// max 50 connections, 300s idle timeout, 10s connect timeout, 60s sweep.
func New(opts Options) *Pool {
	if opts.MaxConnections <= 0 {
		opts.MaxConnections = 50
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 300 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 60 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = dialSSH
	}

	return &Pool{
		entries: make(map[string]*entry),
		opts:    opts,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the idle-eviction sweep
func (p *Pool) Start() {
	go p.sweepLoop()
}

// Acquire returns a connection for host, reusing an idle entry or dialing
// a new one. The caller must Release the host when done with the command.
func (p *Pool) Acquire(ctx context.Context, host string, params Params) (*ssh.Client, error) {
	key := strings.ToLower(host)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if e, ok := p.entries[key]; ok {
		if e.inUse {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrConnectionBusy, key)
		}
		e.inUse = true
		e.lastUsed = time.Now()
		client := e.client
		p.mu.Unlock()
		metrics.PoolConnectionsInUse.Inc()
		return client, nil
	}

	if len(p.entries) >= p.opts.MaxConnections {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %d/%d connections", ErrPoolExhausted, p.opts.MaxConnections, p.opts.MaxConnections)
	}

	// Reserve the slot before dialing so concurrent acquires for the same
	// host do not race past the one-entry-per-key invariant.
	placeholder := &entry{host: key, inUse: true, createdAt: time.Now(), lastUsed: time.Now()}
	p.entries[key] = placeholder
	p.mu.Unlock()

	if params.ConnectTimeout <= 0 {
		params.ConnectTimeout = p.opts.ConnectTimeout
	}

	client, err := p.opts.Dial(ctx, params)
	if err != nil {
		p.mu.Lock()
		delete(p.entries, key)
		p.mu.Unlock()
		p.publish(events.EventPoolError, key, err.Error())
		return nil, fmt.Errorf("failed to connect to %s: %w", key, err)
	}

	p.mu.Lock()
	placeholder.client = client
	p.mu.Unlock()

	metrics.PoolDialsTotal.Inc()
	metrics.PoolConnections.Inc()
	metrics.PoolConnectionsInUse.Inc()
	p.publish(events.EventPoolConnected, key, "")
	logger := log.WithComponent("sshpool")
	logger.Debug().Str("host", key).Msg("connection established")

	// Evict on transport-level close. Advisory: the sweep also catches
	// dead entries through normal idle eviction.
	if client.Conn != nil {
		go func() {
			_ = client.Wait()
			p.evict(key, "transport closed")
		}()
	}

	return client, nil
}

// Release returns the host's connection to the pool
func (p *Pool) Release(host string) {
	key := strings.ToLower(host)

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[key]; ok && e.inUse {
		e.inUse = false
		e.lastUsed = time.Now()
		metrics.PoolConnectionsInUse.Dec()
	}
}

// Close tears down the host's connection regardless of in-use state
func (p *Pool) Close(host string) error {
	key := strings.ToLower(host)

	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	metrics.PoolConnections.Dec()
	if e.inUse {
		metrics.PoolConnectionsInUse.Dec()
	}
	p.publish(events.EventPoolClosed, key, "")

	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// CloseAll cancels the sweep and tears down every entry
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.stopCh)

	entries := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*entry)
	p.mu.Unlock()

	for _, e := range entries {
		if e.client != nil {
			_ = e.client.Close()
		}
		metrics.PoolConnections.Dec()
		if e.inUse {
			metrics.PoolConnectionsInUse.Dec()
		}
		p.publish(events.EventPoolClosed, e.host, "")
	}
}

// HostStatus describes one pooled connection
type HostStatus struct {
	Host      string
	InUse     bool
	CreatedAt time.Time
	LastUsed  time.Time
}

// Status returns a snapshot of the pool
type Status struct {
	Size  int
	InUse int
	Max   int
	Hosts []HostStatus
}

// Status returns the current pool state
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		Size: len(p.entries),
		Max:  p.opts.MaxConnections,
	}
	for _, e := range p.entries {
		if e.inUse {
			st.InUse++
		}
		st.Hosts = append(st.Hosts, HostStatus{
			Host:      e.host,
			InUse:     e.inUse,
			CreatedAt: e.createdAt,
			LastUsed:  e.lastUsed,
		})
	}
	return st
}

// Size returns the number of pooled connections
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

// sweep evicts entries idle for longer than IdleTimeout
func (p *Pool) sweep() {
	now := time.Now()

	p.mu.Lock()
	var victims []*entry
	for key, e := range p.entries {
		if !e.inUse && now.Sub(e.lastUsed) > p.opts.IdleTimeout {
			delete(p.entries, key)
			victims = append(victims, e)
		}
	}
	p.mu.Unlock()

	logger := log.WithComponent("sshpool")
	for _, e := range victims {
		if e.client != nil {
			_ = e.client.Close()
		}
		metrics.PoolConnections.Dec()
		metrics.PoolEvictionsTotal.Inc()
		p.publish(events.EventPoolClosed, e.host, "idle timeout")
		logger.Debug().Str("host", e.host).Msg("idle connection evicted")
	}
}

// evict removes an entry after a transport-level close
func (p *Pool) evict(key, reason string) {
	p.mu.Lock()
	e, ok := p.entries[key]
	if ok {
		delete(p.entries, key)
	}
	p.mu.Unlock()

	if !ok {
		return
	}

	metrics.PoolConnections.Dec()
	if e.inUse {
		metrics.PoolConnectionsInUse.Dec()
	}
	p.publish(events.EventPoolClosed, key, reason)
}

func (p *Pool) publish(eventType events.EventType, host, detail string) {
	if p.opts.Broker == nil {
		return
	}
	meta := map[string]string{"host": host}
	if detail != "" {
		meta["detail"] = detail
	}
	p.opts.Broker.Publish(&events.Event{
		Type:     eventType,
		Message:  host,
		Metadata: meta,
	})
}

// dialSSH is the production DialFunc using golang.org/x/crypto/ssh
func dialSSH(ctx context.Context, params Params) (*ssh.Client, error) {
	signer, err := ssh.ParsePrivateKey(params.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	port := params.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(params.Address, fmt.Sprintf("%d", port))

	config := &ssh.ClientConfig{
		User:            params.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         params.ConnectTimeout,
	}

	dialer := net.Dialer{Timeout: params.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}
