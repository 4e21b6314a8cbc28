package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/ethereum"
)

// MockConnectorID is the id of the in-process connector.
const MockConnectorID = "mock"

// MockConnector is an always-installed wallet backed by an in-memory key.
// It reports SN_GOERLI until told otherwise.
type MockConnector struct {
	mu          sync.Mutex
	key         *ecdsa.PrivateKey
	network     string
	available   bool
	failConnect error
	connected   bool
	nextHook    int
	hooks       map[int]func()
}

// NewMockConnector creates a mock connector for key. A nil key generates a
// fresh one.
func NewMockConnector(key *ecdsa.PrivateKey) (*MockConnector, error) {
	if key == nil {
		var err error
		if key, err = crypto.GenerateKey(); err != nil {
			return nil, fmt.Errorf("generate mock key: %w", err)
		}
	}
	return &MockConnector{
		key:       key,
		network:   domain.NetworkGoerli,
		available: true,
		hooks:     make(map[int]func()),
	}, nil
}

func (m *MockConnector) ID() string { return MockConnectorID }
func (m *MockConnector) DisplayName() string { return "Mock Wallet" }
func (m *MockConnector) Icon() string { return "/icons/mock-wallet.svg" }

// Probe reports whether the mock is marked available.
func (m *MockConnector) Probe() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// Connect returns the key's account, or the injected failure.
func (m *MockConnector) Connect(ctx context.Context) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConnect != nil {
		return nil, m.failConnect
	}
	m.connected = true
	return ethereum.NewKeyAccount(m.key), nil
}

// Disconnect marks the mock disconnected.
func (m *MockConnector) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return errors.New("mock wallet not connected")
	}
	m.connected = false
	return nil
}

// NetworkID returns the current network id. An empty network is an error.
func (m *MockConnector) NetworkID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.network == "" {
		return "", errors.New("mock wallet has no network")
	}
	return m.network, nil
}

// OnNetworkChanged registers fn for SetNetwork calls.
func (m *MockConnector) OnNetworkChanged(fn func()) func() {
	m.mu.Lock()
	id := m.nextHook
	m.nextHook++
	m.hooks[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.hooks, id)
		m.mu.Unlock()
	}
}

// ─── Test Controls ──────────────────────────────────────────────────────────

// SetNetwork switches networks and fires the change hooks synchronously.
func (m *MockConnector) SetNetwork(id string) {
	m.mu.Lock()
	m.network = id
	hooks := make([]func(), 0, len(m.hooks))
	for _, fn := range m.hooks {
		hooks = append(hooks, fn)
	}
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}

// SetAvailable toggles Probe.
func (m *MockConnector) SetAvailable(ok bool) {
	m.mu.Lock()
	m.available = ok
	m.mu.Unlock()
}

// FailConnect makes every Connect return err until cleared with nil.
func (m *MockConnector) FailConnect(err error) {
	m.mu.Lock()
	m.failConnect = err
	m.mu.Unlock()
}

// Address returns the address Connect will report.
func (m *MockConnector) Address() string {
	return crypto.PubkeyToAddress(m.key.PublicKey).Hex()
}

// Hooks returns the number of registered network hooks.
func (m *MockConnector) Hooks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hooks)
}
