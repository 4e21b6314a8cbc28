package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/starkpass/starkpass/internal/domain"
)

// Remote delegates to one LedgerRPC per token kind.
type Remote struct {
	rpcs    map[domain.TokenKind]domain.LedgerRPC
	limiter *rate.Limiter
	now     func() time.Time
	log     log.Logger
}

// NewRemote creates a network-backed ledger. Mint submissions are paced to
// perSecond (burst 1); perSecond <= 0 disables pacing.
func NewRemote(badges, credentials domain.LedgerRPC, perSecond float64) *Remote {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	rpcs := map[domain.TokenKind]domain.LedgerRPC{
		domain.KindBadge:      badges,
		domain.KindCredential: credentials,
	}
	return &Remote{
		rpcs:    rpcs,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
		log:     log.New("component", "ledger", "mode", "remote"),
	}
}

// Name returns "remote".
func (r *Remote) Name() string { return string(ModeRemote) }

func (r *Remote) rpc(kind domain.TokenKind) (domain.LedgerRPC, error) {
	rpc, ok := r.rpcs[kind]
	if !ok || rpc == nil {
		return nil, domain.NotFound("ledger contract", string(kind))
	}
	return rpc, nil
}

// BalanceOf asks the contract for address's balance.
func (r *Remote) BalanceOf(ctx context.Context, kind domain.TokenKind, address string) (int, error) {
	rpc, err := r.rpc(kind)
	if err != nil {
		return 0, err
	}
	n, err := rpc.BalanceOf(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("balanceOf %s: %w", kind, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("balanceOf %s: negative balance %d", kind, n)
	}
	return n, nil
}

// Tokens enumerates address's tokens with their metadata URIs.
func (r *Remote) Tokens(ctx context.Context, kind domain.TokenKind, address string) ([]domain.Token, error) {
	rpc, err := r.rpc(kind)
	if err != nil {
		return nil, err
	}
	n, err := r.BalanceOf(ctx, kind, address)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Token, 0, n)
	for i := 0; i < n; i++ {
		id, err := rpc.TokenOfOwnerByIndex(ctx, address, i)
		if err != nil {
			return nil, fmt.Errorf("tokenOfOwnerByIndex %s[%d]: %w", kind, i, err)
		}
		uri, err := rpc.TokenURI(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("tokenURI %s: %w", id, err)
		}
		tok := domain.Token{TokenID: id, URI: uri, Contract: rpc.Address()}
		if at, ok := MintTime(id); ok {
			tok.MintedAt = at
		}
		out = append(out, tok)
	}
	return out, nil
}

// Mint submits a mint and waits for confirmation. A transaction that was
// submitted but could not be confirmed surfaces as ErrMintPending.
func (r *Remote) Mint(ctx context.Context, kind domain.TokenKind, to, logicalID, uri string) (domain.MintReceipt, error) {
	rpc, err := r.rpc(kind)
	if err != nil {
		return domain.MintReceipt{}, domain.MintFailed(err)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return domain.MintReceipt{}, domain.MintFailed(fmt.Errorf("rate limit: %w", err))
	}

	tokenID := TokenIDFor(logicalID, r.now())
	txHash, err := rpc.Mint(ctx, to, tokenID, uri)
	if err != nil {
		return domain.MintReceipt{}, domain.MintFailed(err)
	}
	receipt := domain.MintReceipt{TransactionRef: txHash, TokenID: tokenID, Contract: rpc.Address()}
	receipt.MintedAt, _ = MintTime(tokenID)
	r.log.Info("Mint submitted", "kind", kind, "to", to, "token", tokenID, "tx", txHash)

	if err := rpc.WaitForConfirmation(ctx, txHash); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrMintPending) {
			r.log.Warn("Mint not yet confirmed", "tx", txHash, "err", err)
			return receipt, domain.MintPending(txHash, err)
		}
		return domain.MintReceipt{}, domain.MintFailed(err)
	}

	r.log.Info("Mint confirmed", "kind", kind, "token", tokenID, "tx", txHash)
	return receipt, nil
}
