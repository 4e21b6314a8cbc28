package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// DefaultMintTimeout bounds a mint from submission to confirmation.
const DefaultMintTimeout = 30 * time.Second

// lateResultGrace is how long a timed-out mint may still report a result
// (typically ErrMintPending carrying the transaction ref).
const lateResultGrace = 250 * time.Millisecond

// Guarded wraps a strategy with the outer mint timeout, error normalisation,
// metrics and tracing.
type Guarded struct {
	inner   domain.Ledger
	timeout time.Duration
	tracer  *observability.Tracer
}

// Guard wraps inner. timeout <= 0 uses DefaultMintTimeout.
func Guard(inner domain.Ledger, timeout time.Duration, tracer *observability.Tracer) *Guarded {
	if timeout <= 0 {
		timeout = DefaultMintTimeout
	}
	return &Guarded{inner: inner, timeout: timeout, tracer: tracer}
}

// Name returns the wrapped strategy's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// BalanceOf delegates to the strategy.
func (g *Guarded) BalanceOf(ctx context.Context, kind domain.TokenKind, address string) (int, error) {
	n, err := g.inner.BalanceOf(ctx, kind, address)
	observability.LedgerReads.WithLabelValues("balance_of", outcome(err)).Inc()
	return n, err
}

// Tokens delegates to the strategy.
func (g *Guarded) Tokens(ctx context.Context, kind domain.TokenKind, address string) ([]domain.Token, error) {
	ctx, span := g.tracer.StartSpan(ctx, "ledger.tokens", map[string]string{"kind": string(kind), "address": address})
	tokens, err := g.inner.Tokens(ctx, kind, address)
	g.tracer.EndSpan(span, err)
	observability.LedgerReads.WithLabelValues("tokens", outcome(err)).Inc()
	return tokens, err
}

type mintResult struct {
	receipt domain.MintReceipt
	err     error
}

// Mint runs the strategy's mint under the outer timeout. Every failure is
// one of ErrMintFailed, ErrMintPending or ErrMintTimeout.
func (g *Guarded) Mint(ctx context.Context, kind domain.TokenKind, to, logicalID, uri string) (domain.MintReceipt, error) {
	ctx, span := g.tracer.StartSpan(ctx, "ledger.mint", map[string]string{"kind": string(kind), "to": to, "id": logicalID})
	start := time.Now()

	mintCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	done := make(chan mintResult, 1)
	go func() {
		r, err := g.inner.Mint(mintCtx, kind, to, logicalID, uri)
		done <- mintResult{r, err}
	}()

	var res mintResult
	select {
	case res = <-done:
	case <-mintCtx.Done():
		select {
		case res = <-done:
		case <-time.After(lateResultGrace):
			res.err = domain.Wrap(domain.CodeMintTimeout, "mint timed out", mintCtx.Err())
		}
	}
	res.err = normalize(res.err)

	observability.MintsTotal.WithLabelValues(string(kind), mintOutcome(res.err)).Inc()
	observability.MintLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
	g.tracer.EndSpan(span, res.err)

	if res.err != nil {
		if errors.Is(res.err, domain.ErrMintPending) {
			return res.receipt, res.err
		}
		return domain.MintReceipt{}, res.err
	}
	return res.receipt, nil
}

// normalize maps any error into the mint taxonomy.
func normalize(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrMintFailed),
		errors.Is(err, domain.ErrMintPending),
		errors.Is(err, domain.ErrMintTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return domain.Wrap(domain.CodeMintTimeout, "mint timed out", err)
	}
	return domain.MintFailed(err)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func mintOutcome(err error) string {
	switch domain.CodeOf(err) {
	case "":
		if err != nil {
			return "failed"
		}
		return "confirmed"
	case domain.CodeMintPending:
		return "pending"
	case domain.CodeMintTimeout:
		return "timeout"
	}
	return "failed"
}
