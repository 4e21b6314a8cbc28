package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Connector abstracts an installable wallet provider.
type Connector interface {
	ID() string
	DisplayName() string
	Icon() string

	// Probe reports whether the provider is present. Must not block.
	Probe() bool

	// Connect asks the provider for an account. The user may reject.
	Connect(ctx context.Context) (Account, error)
	Disconnect(ctx context.Context) error

	// NetworkID returns the provider's current network identifier.
	NetworkID(ctx context.Context) (string, error)

	// OnNetworkChanged registers fn to run when the provider switches
	// networks. The returned func unregisters it.
	OnNetworkChanged(fn func()) (unsubscribe func())
}

// Account is a connected wallet account.
type Account interface {
	Address() string
	SignMessage(ctx context.Context, payload []byte) (string, error)
}

// Ledger abstracts badge and credential issuance and ownership queries.
type Ledger interface {
	Name() string
	BalanceOf(ctx context.Context, kind TokenKind, address string) (int, error)
	Tokens(ctx context.Context, kind TokenKind, address string) ([]Token, error)

	// Mint issues a token and returns once it is confirmed.
	Mint(ctx context.Context, kind TokenKind, to, logicalID, uri string) (MintReceipt, error)
}

// LedgerRPC is the raw contract surface a network-backed ledger talks to.
// One instance serves one contract.
type LedgerRPC interface {
	Address() string
	BalanceOf(ctx context.Context, owner string) (int, error)
	TokenOfOwnerByIndex(ctx context.Context, owner string, index int) (string, error)
	TokenURI(ctx context.Context, tokenID string) (string, error)
	Mint(ctx context.Context, to, tokenID, uri string) (txHash string, err error)
	WaitForConfirmation(ctx context.Context, txHash string) error
}

// LocalStorage is a small persistent key/value store that survives restarts.
type LocalStorage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// ContentSource provides static quest and campaign reference content.
type ContentSource interface {
	Quests() []Quest
	Quest(id string) (Quest, bool)
	Campaigns() []Campaign
	Campaign(id string) (Campaign, bool)
	CampaignForCredential(credentialID string) (Campaign, bool)
	CredentialTemplate(id string) (Credential, bool)
	BadgeTemplate(questID string) (Badge, bool)
}

// CompletionStore persists quest completions per address.
type CompletionStore interface {
	CompletedQuests(address string) ([]string, error)
	RecordCompletion(address, questID string, xp int, txRef string) error
}

// CampaignStore persists campaign claim counters.
type CampaignStore interface {
	ClaimCount(campaignID string) (int, error)

	// RecordClaim adds one claim for address on top of base and returns the
	// new total. It returns ErrCampaignExhausted instead of exceeding max.
	// Recording the same address twice does not count twice.
	RecordClaim(campaignID, address, txRef string, base, max int) (int, error)
}

// StatsSource answers aggregate questions across all addresses.
type StatsSource interface {
	CompletionCounts() (map[string]int, error)
	DistinctAddresses() (int, error)
	TopContributors(limit int) ([]Contributor, error)
}

// SessionSource exposes the current wallet session.
type SessionSource interface {
	Session() Session
}
