// Package ledger implements the badge and credential ledger strategies.
//
// Two interchangeable strategies exist: Mock keeps holdings in process with
// artificial latency, Remote delegates to one LedgerRPC per contract. Select
// resolves the strategy once at composition time and Guard wraps it with the
// outer mint timeout and error normalisation.
package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starkpass/starkpass/internal/domain"
)

// Mode selects a ledger strategy.
type Mode string

const (
	ModeMock   Mode = "mock"
	ModeRemote Mode = "remote"
)

// ParseMode validates a mode string. Empty means mock.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMock:
		return ModeMock, nil
	case ModeRemote:
		return ModeRemote, nil
	}
	return "", fmt.Errorf("unknown ledger mode %q (want mock or remote)", s)
}

// Factory builds a ledger strategy.
type Factory func() (domain.Ledger, error)

// Select builds the strategy for mode. Only the selected factory runs.
func Select(mode Mode, mock, remote Factory) (domain.Ledger, error) {
	switch mode {
	case ModeMock:
		return mock()
	case ModeRemote:
		return remote()
	}
	return nil, fmt.Errorf("unknown ledger mode %q", mode)
}

// TokenIDFor derives the on-ledger token id for a logical id.
func TokenIDFor(logicalID string, at time.Time) string {
	return fmt.Sprintf("%s-%d", logicalID, at.UnixMilli())
}

// MintTime recovers the mint timestamp from a token id produced by
// TokenIDFor, at millisecond precision.
func MintTime(tokenID string) (time.Time, bool) {
	i := strings.LastIndexByte(tokenID, '-')
	if i <= 0 || i == len(tokenID)-1 {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(tokenID[i+1:], 10, 64)
	if err != nil || ms < 0 {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}

// LogicalID strips the mint timestamp from a token id produced by TokenIDFor.
func LogicalID(tokenID string) string {
	i := strings.LastIndexByte(tokenID, '-')
	if i <= 0 {
		return tokenID
	}
	for _, r := range tokenID[i+1:] {
		if r < '0' || r > '9' {
			return tokenID
		}
	}
	return tokenID[:i]
}
