package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/starkpass/starkpass/internal/domain"
)

// MockConfig controls the in-process ledger.
type MockConfig struct {
	ReadLatency time.Duration
	MintLatency time.Duration

	// Starter lists logical ids every new address starts out holding.
	Starter map[domain.TokenKind][]string

	// Contracts names the pseudo contract per kind.
	Contracts map[domain.TokenKind]string
}

// DefaultMockConfig returns the latencies of a typical testnet round trip.
func DefaultMockConfig() MockConfig {
	return MockConfig{
		ReadLatency: 500 * time.Millisecond,
		MintLatency: 1500 * time.Millisecond,
		Contracts: map[domain.TokenKind]string{
			domain.KindBadge:      "0xfedcba0987654321",
			domain.KindCredential: "0x1234567890abcdef",
		},
	}
}

// Mock is an in-memory ledger.
type Mock struct {
	cfg MockConfig
	now func() time.Time
	log log.Logger

	mu       sync.Mutex
	holdings map[domain.TokenKind]map[string][]domain.Token
	failNext error
}

// NewMock creates an in-memory ledger.
func NewMock(cfg MockConfig) *Mock {
	if cfg.Contracts == nil {
		cfg.Contracts = DefaultMockConfig().Contracts
	}
	holdings := map[domain.TokenKind]map[string][]domain.Token{
		domain.KindBadge:      {},
		domain.KindCredential: {},
	}
	return &Mock{
		cfg:      cfg,
		now:      time.Now,
		log:      log.New("component", "ledger", "mode", "mock"),
		holdings: holdings,
	}
}

// Name returns "mock".
func (m *Mock) Name() string { return string(ModeMock) }

// BalanceOf returns how many tokens of kind address holds.
func (m *Mock) BalanceOf(ctx context.Context, kind domain.TokenKind, address string) (int, error) {
	tokens, err := m.Tokens(ctx, kind, address)
	return len(tokens), err
}

// Tokens returns the tokens of kind held by address, oldest first.
func (m *Mock) Tokens(ctx context.Context, kind domain.TokenKind, address string) ([]domain.Token, error) {
	if !kind.Valid() {
		return nil, domain.NotFound("token kind", string(kind))
	}
	if err := sleep(ctx, m.cfg.ReadLatency); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Token{}, m.seeded(kind, address)...), nil
}

// Mint appends a token for to after the artificial latency.
func (m *Mock) Mint(ctx context.Context, kind domain.TokenKind, to, logicalID, uri string) (domain.MintReceipt, error) {
	if !kind.Valid() {
		return domain.MintReceipt{}, domain.MintFailed(domain.NotFound("token kind", string(kind)))
	}
	if err := sleep(ctx, m.cfg.MintLatency); err != nil {
		return domain.MintReceipt{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failNext; err != nil {
		m.failNext = nil
		return domain.MintReceipt{}, domain.MintFailed(err)
	}

	now := m.now()
	tok := domain.Token{
		TokenID:        TokenIDFor(logicalID, now),
		URI:            uri,
		Contract:       m.cfg.Contracts[kind],
		TransactionRef: "0x" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		MintedAt:       now.UTC(),
	}
	addr := domain.NormalizeAddress(to)
	m.holdings[kind][addr] = append(m.seeded(kind, addr), tok)

	m.log.Debug("Mock mint", "kind", kind, "to", addr, "token", tok.TokenID, "tx", tok.TransactionRef)
	return domain.MintReceipt{
		TransactionRef: tok.TransactionRef,
		TokenID:        tok.TokenID,
		Contract:       tok.Contract,
		MintedAt:       tok.MintedAt,
	}, nil
}

// FailNextMint makes the next Mint fail with err.
func (m *Mock) FailNextMint(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// seeded returns the holdings for address, creating the starter set on
// first sight. Caller holds m.mu.
func (m *Mock) seeded(kind domain.TokenKind, address string) []domain.Token {
	addr := domain.NormalizeAddress(address)
	if tokens, ok := m.holdings[kind][addr]; ok {
		return tokens
	}
	now := m.now().UTC()
	tokens := make([]domain.Token, 0, len(m.cfg.Starter[kind]))
	for _, id := range m.cfg.Starter[kind] {
		tokens = append(tokens, domain.Token{
			TokenID:  TokenIDFor(id, now),
			URI:      domain.MetadataURI(kind, id),
			Contract: m.cfg.Contracts[kind],
			MintedAt: now,
		})
	}
	m.holdings[kind][addr] = tokens
	return tokens
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
