package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/singleflight"

	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// PersistKey is the local storage key holding the last connector id.
const PersistKey = "starkpass_wallet_name"

// networkRefreshTimeout bounds the NetworkID call made after a change hook.
const networkRefreshTimeout = 10 * time.Second

// Store owns the wallet session.
type Store struct {
	registry *Registry
	storage  domain.LocalStorage
	log      log.Logger
	group    singleflight.Group
	restored sync.Once

	mu           sync.RWMutex
	session      domain.Session
	connectingID string
	connector    domain.Connector
	account      domain.Account
	unsubscribe  func()

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]func(domain.Session)
}

// NewStore creates a disconnected session store.
func NewStore(registry *Registry, storage domain.LocalStorage) *Store {
	return &Store{
		registry:  registry,
		storage:   storage,
		log:       log.New("component", "session"),
		session:   domain.Session{State: domain.Disconnected},
		observers: make(map[int]func(domain.Session)),
	}
}

// Session returns a snapshot of the current session.
func (s *Store) Session() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Subscribe registers fn to receive every session transition. Observers run
// synchronously, outside the store's lock.
func (s *Store) Subscribe(fn func(domain.Session)) (unsubscribe func()) {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// ─── Restore ────────────────────────────────────────────────────────────────

// Restore silently reconnects the persisted connector. It runs once; later
// calls return the current session. Any failure clears the persisted id.
func (s *Store) Restore(ctx context.Context) domain.Session {
	s.restored.Do(func() {
		id, ok, err := s.storage.Get(PersistKey)
		if err != nil {
			s.log.Warn("Failed to read persisted connector", "err", err)
			return
		}
		if !ok || id == "" {
			return
		}
		if _, err := s.Connect(ctx, id); err != nil {
			s.log.Info("Session restore failed", "connector", id, "err", err)
			s.forget()
			return
		}
		s.log.Info("Session restored", "connector", id)
	})
	return s.Session()
}

// ─── Connect ────────────────────────────────────────────────────────────────

// Connect connects through the connector with id. Concurrent calls for the
// same id share one attempt; a call for a different id while one is in
// flight fails with ErrOperationInProgress.
func (s *Store) Connect(ctx context.Context, id string) (domain.Session, error) {
	c, err := s.registry.Lookup(id)
	if err != nil {
		observability.ConnectAttempts.WithLabelValues(id, "unavailable").Inc()
		return s.Session(), err
	}

	s.mu.RLock()
	busy := s.session.State == domain.Connecting && s.connectingID != id
	s.mu.RUnlock()
	if busy {
		return s.Session(), domain.ErrOperationInProgress
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		return s.connect(ctx, c)
	})
	if err != nil {
		return s.Session(), err
	}
	return v.(domain.Session), nil
}

func (s *Store) connect(ctx context.Context, c domain.Connector) (domain.Session, error) {
	id := c.ID()

	s.mu.Lock()
	if s.session.State == domain.Connecting && s.connectingID != id {
		s.mu.Unlock()
		return domain.Session{}, domain.ErrOperationInProgress
	}
	if s.session.IsConnected() && s.session.ConnectorID == id {
		snap := s.session
		s.mu.Unlock()
		return snap, nil
	}
	prev, prevUnsub := s.connector, s.unsubscribe
	s.connector, s.account, s.unsubscribe = nil, nil, nil
	s.connectingID = id
	s.session = domain.Session{
		ConnectorID: id,
		State:       domain.Connecting,
		Generation:  s.session.Generation + 1,
	}
	gen := s.session.Generation
	snap := s.session
	s.mu.Unlock()
	s.publish(snap)

	// Switching wallets tears the old one down first.
	if prev != nil {
		s.teardown(ctx, prev, prevUnsub)
	}

	acct, err := c.Connect(ctx)
	if err == nil && acct.Address() == "" {
		err = errors.New("connector returned an empty address")
	}
	var network string
	if err == nil {
		network, err = c.NetworkID(ctx)
	}
	if err != nil {
		observability.ConnectAttempts.WithLabelValues(id, "rejected").Inc()
		s.log.Warn("Wallet connection rejected", "connector", id, "err", err)
		if acct != nil {
			s.teardown(ctx, c, nil)
		}
		s.resetIf(gen)
		return domain.Session{}, domain.Wrap(domain.CodeConnectionRejected, "wallet connection rejected", err)
	}

	s.mu.Lock()
	if s.session.Generation != gen {
		// Disconnected (or replaced) while the wallet was answering.
		s.mu.Unlock()
		s.teardown(ctx, c, nil)
		return domain.Session{}, domain.ErrSessionChanged
	}
	s.connector = c
	s.account = acct
	s.connectingID = ""
	s.session = domain.Session{
		Address:     acct.Address(),
		ConnectorID: id,
		NetworkID:   network,
		State:       domain.Connected,
		Generation:  gen + 1,
	}
	s.unsubscribe = c.OnNetworkChanged(func() { s.onNetworkChanged(c) })
	snap = s.session
	s.mu.Unlock()

	if err := s.storage.Set(PersistKey, id); err != nil {
		s.log.Warn("Failed to persist connector", "connector", id, "err", err)
	}
	observability.ConnectAttempts.WithLabelValues(id, "connected").Inc()
	s.log.Info("Wallet connected", "connector", id, "address", snap.Address, "network", snap.NetworkName())
	s.publish(snap)
	return snap, nil
}

// resetIf moves back to Disconnected if no other transition happened since gen.
func (s *Store) resetIf(gen uint64) {
	s.mu.Lock()
	if s.session.Generation != gen {
		s.mu.Unlock()
		return
	}
	s.connectingID = ""
	s.session = domain.Session{State: domain.Disconnected, Generation: gen + 1}
	snap := s.session
	s.mu.Unlock()
	s.publish(snap)
}

// ─── Network Changes ────────────────────────────────────────────────────────

func (s *Store) onNetworkChanged(c domain.Connector) {
	ctx, cancel := context.WithTimeout(context.Background(), networkRefreshTimeout)
	defer cancel()
	network, err := c.NetworkID(ctx)

	s.mu.Lock()
	if s.connector != c || !s.session.IsConnected() {
		s.mu.Unlock()
		return
	}
	if err != nil || network == "" {
		s.mu.Unlock()
		s.log.Warn("Network change invalidated session", "connector", c.ID(), "err", err)
		s.Disconnect(ctx)
		return
	}
	s.session.NetworkID = network
	s.session.Generation++
	snap := s.session
	s.mu.Unlock()

	s.log.Info("Wallet network changed", "network", snap.NetworkName())
	s.publish(snap)
}

// ─── Disconnect ─────────────────────────────────────────────────────────────

// Disconnect resets the session. Connector teardown is best-effort: its
// failures are logged, local state always resets.
func (s *Store) Disconnect(ctx context.Context) {
	s.mu.Lock()
	prev, unsub := s.connector, s.unsubscribe
	s.connector, s.account, s.unsubscribe = nil, nil, nil
	s.connectingID = ""
	s.session = domain.Session{State: domain.Disconnected, Generation: s.session.Generation + 1}
	snap := s.session
	s.mu.Unlock()

	if err := s.storage.Remove(PersistKey); err != nil {
		s.log.Warn("Failed to clear persisted connector", "err", err)
	}
	if prev != nil {
		s.teardown(ctx, prev, unsub)
	}
	s.log.Info("Wallet disconnected")
	s.publish(snap)
}

func (s *Store) teardown(ctx context.Context, c domain.Connector, unsub func()) {
	if unsub != nil {
		unsub()
	}
	if err := c.Disconnect(ctx); err != nil {
		s.log.Warn("Connector teardown failed", "connector", c.ID(), "err", err)
	}
}

// forget clears the persisted connector id.
func (s *Store) forget() {
	if err := s.storage.Remove(PersistKey); err != nil {
		s.log.Warn("Failed to clear persisted connector", "err", err)
	}
}

// ─── Signing ────────────────────────────────────────────────────────────────

// SignMessage signs payload with the connected account.
func (s *Store) SignMessage(ctx context.Context, payload []byte) (string, error) {
	s.mu.RLock()
	acct := s.account
	connected := s.session.IsConnected()
	s.mu.RUnlock()

	if !connected || acct == nil {
		return "", domain.ErrNotConnected
	}
	sig, err := acct.SignMessage(ctx, payload)
	if err != nil {
		return "", domain.Wrap(domain.CodeConnectionRejected, "signature request rejected", err)
	}
	return sig, nil
}

// ─── Observers ──────────────────────────────────────────────────────────────

func (s *Store) publish(snap domain.Session) {
	observability.SessionTransitions.WithLabelValues(string(snap.State)).Inc()
	if snap.IsConnected() {
		observability.SessionConnected.Set(1)
	} else {
		observability.SessionConnected.Set(0)
	}

	s.obsMu.Lock()
	fns := make([]func(domain.Session), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
