// Package ledger manages the session with the external ledger node that
// hosts the attendance contract. It owns the connection lifecycle and
// provides the read and write calls used against the contract.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
)

// EventHandler defines a function that is called when events
// occur while talking to the ledger.
type EventHandler func(v string, args ...any)

// State represents where the manager is in the connection lifecycle.
type State int

// Set of manager states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// =============================================================================

// Config represents the settings required to connect to the ledger.
type Config struct {
	URL            string
	Artifact       Artifact
	Attempts       int
	Delay          time.Duration
	GasLimit       uint64
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
	EvHandler      EventHandler
}

// Manager owns the single session with the ledger. The handshake is
// performed once, by the first caller, and the session is shared after that.
type Manager struct {
	cfg     Config
	ev      EventHandler
	mu      sync.Mutex
	state   State
	session *Session
	err     error
}

// NewManager constructs a manager in the disconnected state.
func NewManager(cfg Config) *Manager {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Delay == 0 {
		cfg.Delay = time.Second
	}
	if cfg.GasLimit == 0 {
		cfg.GasLimit = 500_000
	}
	if cfg.ReceiptTimeout == 0 {
		cfg.ReceiptTimeout = 30 * time.Second
	}
	if cfg.ReceiptPoll == 0 {
		cfg.ReceiptPoll = 100 * time.Millisecond
	}

	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	return &Manager{
		cfg: cfg,
		ev:  ev,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Initialize performs the handshake with the ledger if it hasn't happened
// yet and returns the shared session. Concurrent callers wait for the first
// handshake to finish and reuse its result. A failed handshake is terminal.
func (m *Manager) Initialize(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateConnected:
		return m.session, nil
	case StateFailed:
		return nil, m.err
	}

	m.state = StateConnecting
	m.ev("ledger: Initialize: started: url[%s]", m.cfg.URL)

	session, err := connect(ctx, m.cfg, m.ev)
	if err != nil {

		// A cancelled caller doesn't say anything about the ledger, so the
		// next caller gets to try again.
		if ctx.Err() != nil {
			m.state = StateDisconnected
			return nil, ctx.Err()
		}

		m.ev("ledger: Initialize: FAILED: %s", err)
		m.state = StateFailed
		m.err = err
		return nil, err
	}

	m.ev("ledger: Initialize: completed: network[%s]: admin[%s]: contract[%s]", session.networkID, session.admin, session.contract)

	m.state = StateConnected
	m.session = session

	return session, nil
}

// Shutdown releases the session with the ledger.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session != nil {
		m.session.Close()
		m.session = nil
	}
	m.state = StateDisconnected
}

// Invoke initializes the session when needed and performs the write.
func (m *Manager) Invoke(ctx context.Context, call Call) (Receipt, error) {
	s, err := m.Initialize(ctx)
	if err != nil {
		return Receipt{}, err
	}
	return s.Invoke(ctx, call)
}

// Query initializes the session when needed and performs the read.
func (m *Manager) Query(ctx context.Context, call Call) (map[string]any, error) {
	s, err := m.Initialize(ctx)
	if err != nil {
		return nil, err
	}
	return s.Query(ctx, call)
}

// Check initializes the session when needed and reports its health.
func (m *Manager) Check(ctx context.Context) (Status, error) {
	s, err := m.Initialize(ctx)
	if err != nil {
		return Status{Error: err.Error()}, err
	}
	return s.Check(ctx)
}

// NetworkInfo initializes the session when needed and describes the network.
func (m *Manager) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	s, err := m.Initialize(ctx)
	if err != nil {
		return NetworkInfo{}, err
	}
	return s.NetworkInfo(ctx)
}

// =============================================================================

// Preflight waits for the ledger node to answer before the service starts.
// It is independent of the session handshake and uses its own retry policy.
func Preflight(ctx context.Context, url string, attempts int, delay time.Duration, ev EventHandler) (string, error) {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
	}
	defer client.Close()

	var networkID string
	var attempt int
	op := func() error {
		attempt++
		if err := probe(ctx, client); err != nil {
			ev("ledger: Preflight: waiting for ledger: attempt[%d/%d]: %s", attempt, attempts, err)
			return err
		}

		id, err := netVersion(ctx, client)
		if err != nil {
			ev("ledger: Preflight: waiting for ledger: attempt[%d/%d]: %s", attempt, attempts, err)
			return err
		}
		networkID = id

		return nil
	}

	if err := backoff.Retry(op, fixedDelay(ctx, attempts, delay)); err != nil {
		return "", fmt.Errorf("%w: after %d attempts: %w", ErrNetworkUnreachable, attempt, err)
	}

	ev("ledger: Preflight: connected: network[%s]", networkID)

	return networkID, nil
}

// =============================================================================

// connect performs the handshake with the ledger. The transport steps are
// retried with a fixed delay. A network without a deployment is a
// configuration fault and returns immediately.
func connect(ctx context.Context, cfg Config, ev EventHandler) (*Session, error) {
	client, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNetworkUnreachable, err)
	}

	var networkID string
	var accounts []common.Address
	var attempt int

	op := func() error {
		attempt++

		if err := probe(ctx, client); err != nil {
			return err
		}

		id, err := netVersion(ctx, client)
		if err != nil {
			return err
		}

		var accts []common.Address
		if err := client.CallContext(ctx, &accts, "eth_accounts"); err != nil {
			return fmt.Errorf("eth_accounts: %w", err)
		}
		if len(accts) == 0 {
			return backoff.Permanent(ErrNoAccounts)
		}

		networkID = id
		accounts = accts

		return nil
	}

	notify := func(err error, d time.Duration) {
		ev("ledger: connect: attempt[%d/%d] failed, retrying in %s: %s", attempt, cfg.Attempts, d, err)
	}

	if err := backoff.RetryNotify(op, fixedDelay(ctx, cfg.Attempts, cfg.Delay), notify); err != nil {
		client.Close()
		if errors.Is(err, ErrNoAccounts) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: after %d attempts: %w", ErrNetworkUnreachable, attempt, err)
	}

	contract, err := cfg.Artifact.Address(networkID)
	if err != nil {
		client.Close()
		return nil, err
	}

	ev("ledger: connect: network[%s]: accounts[%d]: contract[%s]", networkID, len(accounts), contract)

	return newSession(client, cfg, networkID, accounts, contract, ev), nil
}

// probe checks the node is listening.
func probe(ctx context.Context, client *rpc.Client) error {
	var listening bool
	if err := client.CallContext(ctx, &listening, "net_listening"); err != nil {
		return fmt.Errorf("net_listening: %w", err)
	}
	if !listening {
		return errors.New("net_listening: node is not listening")
	}
	return nil
}

// netVersion returns the network identifier of the node.
func netVersion(ctx context.Context, client *rpc.Client) (string, error) {
	var id string
	if err := client.CallContext(ctx, &id, "net_version"); err != nil {
		return "", fmt.Errorf("net_version: %w", err)
	}
	return id, nil
}

// fixedDelay constructs the retry policy used for the ledger: a constant
// delay between a bounded number of attempts.
func fixedDelay(ctx context.Context, attempts int, delay time.Duration) backoff.BackOffContext {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewConstantBackOff(delay)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}
