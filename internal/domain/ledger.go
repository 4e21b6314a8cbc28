package domain

import "time"

// ─── Ledger Types ───────────────────────────────────────────────────────────
// The ledger tracks issuance and ownership of badges and credentials. These
// types are shared by the mock and the network-backed strategies.

// TokenKind selects which contract a ledger operation targets.
type TokenKind string

const (
	KindBadge      TokenKind = "badge"
	KindCredential TokenKind = "credential"
)

// Valid reports whether k is a known token kind.
func (k TokenKind) Valid() bool {
	return k == KindBadge || k == KindCredential
}

// Token is a single owned token as reported by a ledger.
type Token struct {
	TokenID        string    `json:"token_id"`
	URI            string    `json:"uri"`
	Contract       string    `json:"contract"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	MintedAt       time.Time `json:"minted_at"`
}

// MintReceipt is returned by a confirmed mint. MintedAt matches the
// MintedAt the ledger later reports for the token.
type MintReceipt struct {
	TransactionRef string    `json:"transaction_ref"`
	TokenID        string    `json:"token_id"`
	Contract       string    `json:"contract"`
	MintedAt       time.Time `json:"minted_at"`
}
