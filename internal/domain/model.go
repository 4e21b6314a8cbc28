// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring: sessions, badges, credentials, quests and the
// profile derived from them. It depends on nothing but the standard library.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Session Types ──────────────────────────────────────────────────────────

// ConnectionState is the wallet session state machine position.
type ConnectionState string

const (
	Disconnected ConnectionState = "disconnected"
	Connecting   ConnectionState = "connecting"
	Connected    ConnectionState = "connected"
)

// Session describes the currently connected wallet, if any.
// Address is non-empty iff State == Connected.
type Session struct {
	Address     string          `json:"address,omitempty"`
	ConnectorID string          `json:"connector_id,omitempty"`
	NetworkID   string          `json:"network_id,omitempty"`
	State       ConnectionState `json:"state"`

	// Generation increments on every transition. Work started under one
	// generation must not commit once the generation has moved on.
	Generation uint64 `json:"generation"`
}

// IsConnected reports whether the session is connected.
func (s Session) IsConnected() bool {
	return s.State == Connected && s.Address != ""
}

// SameAs reports whether s is still the connected session identified by
// address and generation.
func (s Session) SameAs(address string, generation uint64) bool {
	return s.IsConnected() &&
		NormalizeAddress(s.Address) == NormalizeAddress(address) &&
		s.Generation == generation
}

// NetworkName returns a display name for the session's network.
func (s Session) NetworkName() string {
	return NetworkName(s.NetworkID)
}

// ConnectorDescriptor is the catalog entry for an installable wallet connector.
type ConnectorDescriptor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon"`
	Available   bool   `json:"available"`
}

// ─── Network Types ──────────────────────────────────────────────────────────

// Well-known network identifiers.
const (
	NetworkMainnet = "SN_MAIN"
	NetworkGoerli  = "SN_GOERLI"
	NetworkSepolia = "SN_SEPOLIA"
)

// NetworkName maps a network id to its display name.
func NetworkName(id string) string {
	switch id {
	case NetworkMainnet:
		return "Mainnet"
	case NetworkGoerli:
		return "Goerli Testnet"
	case NetworkSepolia:
		return "Sepolia Testnet"
	default:
		return "Unknown Network"
	}
}

// NormalizeAddress canonicalises a wallet address for use as a map key.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ─── Entity Types ───────────────────────────────────────────────────────────

// Badge is an issued, immutable quest reward.
type Badge struct {
	ID          string    `json:"id" toml:"id"`
	Name        string    `json:"name" toml:"name"`
	Description string    `json:"description" toml:"description"`
	Image       string    `json:"image" toml:"image"`
	Issuer      string    `json:"issuer" toml:"issuer"`
	IssuedAt    time.Time `json:"issued_at" toml:"issued_at"`
}

// Credential is an NFT-style credential. A credential is either claimable
// (offered by a campaign) or claimed (owned), never both.
type Credential struct {
	ID          string    `json:"id" toml:"id"`
	Name        string    `json:"name" toml:"name"`
	Description string    `json:"description" toml:"description"`
	Image       string    `json:"image" toml:"image"`
	Issuer      string    `json:"issuer" toml:"issuer"`
	IssuedAt    time.Time `json:"issued_at" toml:"issued_at"`
	TokenID     string    `json:"token_id" toml:"token_id"`
	Contract    string    `json:"contract" toml:"contract"`
}

// Difficulty grades a quest.
type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

// Valid reports whether d is a known difficulty.
func (d Difficulty) Valid() bool {
	return d == Easy || d == Medium || d == Hard
}

// Quest is static reference content.
type Quest struct {
	ID            string     `json:"id" toml:"id"`
	Title         string     `json:"title" toml:"title"`
	Description   string     `json:"description" toml:"description"`
	Sponsor       string     `json:"sponsor" toml:"sponsor"`
	Criteria      string     `json:"criteria" toml:"criteria"`
	Steps         []string   `json:"steps" toml:"steps"`
	Difficulty    Difficulty `json:"difficulty" toml:"difficulty"`
	EstimatedTime string     `json:"estimated_time" toml:"estimated_time"`
	XPReward      int        `json:"xp_reward" toml:"xp_reward"`
	BadgeReward   Badge      `json:"badge_reward" toml:"badge_reward"`
}

// Campaign offers a credential to eligible addresses, up to MaxClaims times.
type Campaign struct {
	ID              string    `json:"id" toml:"id"`
	Title           string    `json:"title" toml:"title"`
	Description     string    `json:"description" toml:"description"`
	Sponsor         string    `json:"sponsor" toml:"sponsor"`
	CredentialID    string    `json:"credential_id" toml:"credential_id"`
	EligibilityRule string    `json:"eligibility_rule" toml:"eligibility_rule"`
	Image           string    `json:"image" toml:"image"`
	StartsAt        time.Time `json:"starts_at" toml:"starts_at"`
	EndsAt          time.Time `json:"ends_at,omitempty" toml:"ends_at"`
	MaxClaims       int       `json:"max_claims" toml:"max_claims"`
	TotalClaims     int       `json:"total_claims" toml:"total_claims"`
}

// Exhausted reports whether no claims remain.
func (c Campaign) Exhausted() bool {
	return c.TotalClaims >= c.MaxClaims
}

// ActiveAt reports whether t falls within the campaign window.
// A zero EndsAt means the campaign never closes.
func (c Campaign) ActiveAt(t time.Time) bool {
	if !c.StartsAt.IsZero() && t.Before(c.StartsAt) {
		return false
	}
	if !c.EndsAt.IsZero() && !t.Before(c.EndsAt) {
		return false
	}
	return true
}

// ClaimRate returns TotalClaims/MaxClaims as a percentage.
func (c Campaign) ClaimRate() float64 {
	if c.MaxClaims <= 0 {
		return 0
	}
	return float64(c.TotalClaims) / float64(c.MaxClaims) * 100
}

// ─── Profile Types ──────────────────────────────────────────────────────────

// XPPerLevel is the XP width of one level.
const XPPerLevel = 500

// DefaultQuestXP is credited for a completed quest that is missing from the
// content catalog.
const DefaultQuestXP = 100

// Level returns floor(xp/500)+1.
func Level(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// Progress returns the fraction of the current level completed, in [0,1).
func Progress(xp int) float64 {
	if xp < 0 {
		return 0
	}
	return float64(xp%XPPerLevel) / float64(XPPerLevel)
}

// ProfileState is everything the UI renders for a connected address.
type ProfileState struct {
	Address              string       `json:"address"`
	XP                   int          `json:"xp"`
	Level                int          `json:"level"`
	Progress             float64      `json:"progress"`
	XPToNext             int          `json:"xp_to_next"`
	CompletedQuestIDs    []string     `json:"completed_quest_ids"`
	Badges               []Badge      `json:"badges"`
	Credentials          []Credential `json:"credentials"`
	ClaimableCredentials []Credential `json:"claimable_credentials"`
}

// EmptyProfile returns the disconnected profile.
func EmptyProfile() ProfileState {
	return ProfileState{
		Level:                1,
		XPToNext:             XPPerLevel,
		CompletedQuestIDs:    []string{},
		Badges:               []Badge{},
		Credentials:          []Credential{},
		ClaimableCredentials: []Credential{},
	}
}

// WithXP returns p with xp and the fields derived from it set.
func (p ProfileState) WithXP(xp int) ProfileState {
	p.XP = xp
	p.Level = Level(xp)
	p.Progress = Progress(xp)
	p.XPToNext = XPPerLevel - xp%XPPerLevel
	return p
}

// HasCompleted reports whether questID is in the completed set.
func (p ProfileState) HasCompleted(questID string) bool {
	for _, id := range p.CompletedQuestIDs {
		if id == questID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers cannot mutate the owner's slices.
func (p ProfileState) Clone() ProfileState {
	out := p
	out.CompletedQuestIDs = append([]string{}, p.CompletedQuestIDs...)
	out.Badges = append([]Badge{}, p.Badges...)
	out.Credentials = append([]Credential{}, p.Credentials...)
	out.ClaimableCredentials = append([]Credential{}, p.ClaimableCredentials...)
	return out
}

// ─── Events ─────────────────────────────────────────────────────────────────

// EventType classifies a profile event.
type EventType string

const (
	EventProfileLoaded     EventType = "profile_loaded"
	EventProfileReset      EventType = "profile_reset"
	EventQuestCompleted    EventType = "quest_completed"
	EventCredentialClaimed EventType = "credential_claimed"
)

// ProfileEvent is published after a profile mutation commits.
type ProfileEvent struct {
	Type           EventType `json:"type"`
	Address        string    `json:"address"`
	EntityID       string    `json:"entity_id,omitempty"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	XP             int       `json:"xp"`
	Level          int       `json:"level"`
	Timestamp      int64     `json:"timestamp"`
}

// ─── Metadata URIs ──────────────────────────────────────────────────────────

// MetadataBase prefixes every minted token URI.
const MetadataBase = "https://starkpass.example"

// MetadataURI returns the metadata URI minted for a token of kind with the
// given logical id.
func MetadataURI(kind TokenKind, logicalID string) string {
	return fmt.Sprintf("%s/%s/%s", MetadataBase, kind, logicalID)
}

// BadgeURI returns the metadata URI minted for a badge. Quest badges use the
// quest id as their logical id.
func BadgeURI(logicalID string) string {
	return MetadataURI(KindBadge, logicalID)
}

// CredentialURI returns the metadata URI minted for a credential.
func CredentialURI(credentialID string) string {
	return MetadataURI(KindCredential, credentialID)
}

// ParseMetadataURI extracts the token kind and logical id from a URI
// produced by BadgeURI or CredentialURI.
func ParseMetadataURI(uri string) (TokenKind, string, bool) {
	rest, ok := strings.CutPrefix(uri, MetadataBase+"/")
	if !ok {
		return "", "", false
	}
	kind, id, ok := strings.Cut(rest, "/")
	if !ok || id == "" {
		return "", "", false
	}
	switch TokenKind(kind) {
	case KindBadge, KindCredential:
		return TokenKind(kind), id, true
	}
	return "", "", false
}
