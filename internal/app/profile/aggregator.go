// Package profile derives the connected address's profile (XP, level,
// badges, credentials, claimables) and runs the two mutating flows: quest
// completion and credential claims.
//
// Every mutation follows commit-after-confirmation: the ledger mint must
// succeed before local state changes, and the change is applied only if the
// wallet session is still the one the operation started under.
package profile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/starkpass/starkpass/internal/app/cache"
	"github.com/starkpass/starkpass/internal/app/ledger"
	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// loadTimeout bounds a background load triggered by a session transition.
const loadTimeout = 30 * time.Second

// Deps are the aggregator's collaborators.
type Deps struct {
	Ledger      domain.Ledger
	Session     domain.SessionSource
	Content     domain.ContentSource
	Completions domain.CompletionStore
	Campaigns   domain.CampaignStore
	Stats       domain.StatsSource
	Tracer      *observability.Tracer
}

// Aggregator owns the ProfileState of the connected address.
type Aggregator struct {
	ledger      domain.Ledger
	session     domain.SessionSource
	content     domain.ContentSource
	completions domain.CompletionStore
	campaigns   domain.CampaignStore
	statsSrc    domain.StatsSource
	tracer      *observability.Tracer
	log         log.Logger
	now         func() time.Time

	badges      *cache.Cache[domain.Token]
	credentials *cache.Cache[domain.Token]

	mu       sync.Mutex
	state    domain.ProfileState
	rev      uint64 // bumped on every commit
	inflight map[string]struct{}

	obsMu     sync.Mutex
	nextObs   int
	observers map[int]func(domain.ProfileEvent)
}

// New creates an aggregator holding the empty profile.
func New(d Deps) *Aggregator {
	return &Aggregator{
		ledger:      d.Ledger,
		session:     d.Session,
		content:     d.Content,
		completions: d.Completions,
		campaigns:   d.Campaigns,
		statsSrc:    d.Stats,
		tracer:      d.Tracer,
		log:         log.New("component", "profile"),
		now:         time.Now,
		badges:      cache.New[domain.Token]("badges"),
		credentials: cache.New[domain.Token]("credentials"),
		state:       domain.EmptyProfile(),
		inflight:    make(map[string]struct{}),
		observers:   make(map[int]func(domain.ProfileEvent)),
	}
}

// State returns a copy of the current profile.
func (a *Aggregator) State() domain.ProfileState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// Reset returns to the empty profile. In-flight operations started before
// the reset will fail their commit check.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	prev := a.state.Address
	a.state = domain.EmptyProfile()
	a.rev++
	a.mu.Unlock()

	if prev != "" {
		a.emit(domain.ProfileEvent{Type: domain.EventProfileReset, Address: prev, Level: 1})
	}
}

// OnSession follows session transitions: a disconnect resets the profile, a
// new connection or network switch reloads it in the background.
func (a *Aggregator) OnSession(s domain.Session) {
	switch {
	case s.State == domain.Disconnected:
		a.Reset()
	case s.IsConnected():
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
			defer cancel()
			if _, err := a.LoadForAddress(ctx, s.Address); err != nil {
				a.log.Debug("Background profile load abandoned", "address", s.Address, "err", err)
			}
		}()
	}
}

// ─── Load ───────────────────────────────────────────────────────────────────

type snapshot struct {
	badgeTokens []domain.Token
	credTokens  []domain.Token
	completed   []string
	claims      map[string]int
}

// LoadForAddress rebuilds the profile for address from the ledger (through
// the entity caches), the completion store and the campaign counters. With
// no intervening mutation two loads produce identical state.
func (a *Aggregator) LoadForAddress(ctx context.Context, address string) (domain.ProfileState, error) {
	sess := a.session.Session()
	if !sess.IsConnected() || domain.NormalizeAddress(sess.Address) != domain.NormalizeAddress(address) {
		return domain.ProfileState{}, domain.ErrNotConnected
	}

	ctx, span := a.tracer.StartSpan(ctx, "profile.load", map[string]string{"address": address})
	state, err := a.load(ctx, sess)
	a.tracer.EndSpan(span, err)
	return state, err
}

func (a *Aggregator) load(ctx context.Context, sess domain.Session) (domain.ProfileState, error) {
	a.mu.Lock()
	rev := a.rev
	a.mu.Unlock()

	snap, err := a.fetch(ctx, sess.Address)
	if err != nil {
		return domain.ProfileState{}, err
	}
	snap.completed = a.reconcile(sess.Address, snap)
	state := a.build(sess.Address, snap)

	a.mu.Lock()
	if !a.session.Session().SameAs(sess.Address, sess.Generation) {
		a.mu.Unlock()
		observability.StaleResults.WithLabelValues("load").Inc()
		return domain.ProfileState{}, domain.ErrSessionChanged
	}
	if a.rev != rev {
		// A mutation committed while we were reading; its state is newer.
		current := a.state.Clone()
		a.mu.Unlock()
		observability.StaleResults.WithLabelValues("load").Inc()
		return current, nil
	}
	a.state = state
	a.rev++
	out := state.Clone()
	a.mu.Unlock()

	a.log.Debug("Profile loaded", "address", state.Address, "xp", state.XP, "badges", len(state.Badges), "credentials", len(state.Credentials))
	a.emit(domain.ProfileEvent{Type: domain.EventProfileLoaded, Address: state.Address, XP: state.XP, Level: state.Level})
	return out, nil
}

// fetch reads every input of a profile concurrently.
func (a *Aggregator) fetch(ctx context.Context, address string) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		snap.badgeTokens, err = a.tokens(gctx, a.badges, domain.KindBadge, address)
		return err
	})
	g.Go(func() (err error) {
		snap.credTokens, err = a.tokens(gctx, a.credentials, domain.KindCredential, address)
		return err
	})
	g.Go(func() error {
		completed, err := a.completions.CompletedQuests(address)
		if err != nil {
			return fmt.Errorf("load quest completions: %w", err)
		}
		snap.completed = completed
		return nil
	})
	g.Go(func() (err error) {
		snap.claims, err = a.claimCounts()
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

// reconcile returns the completed quest ids plus every catalog quest whose
// badge the ledger holds without a recorded completion, as left by a mint
// that was reported pending and confirmed later. Those completions are
// persisted so XP stays stable across reloads.
func (a *Aggregator) reconcile(address string, snap snapshot) []string {
	done := make(map[string]bool, len(snap.completed))
	for _, id := range snap.completed {
		done[id] = true
	}
	out := append([]string{}, snap.completed...)
	for _, tok := range snap.badgeTokens {
		id := logicalID(domain.KindBadge, tok)
		if done[id] {
			continue
		}
		if _, ok := a.content.Quest(id); !ok {
			continue
		}
		done[id] = true
		if err := a.completions.RecordCompletion(address, id, a.questXP(id), tok.TransactionRef); err != nil {
			a.log.Error("Failed to backfill quest completion", "address", address, "quest", id, "err", err)
		}
		a.log.Info("Backfilled quest completion from ledger badge", "address", address, "quest", id, "token", tok.TokenID)
		out = append(out, id)
	}
	return out
}

// tokens reads through the entity cache.
func (a *Aggregator) tokens(ctx context.Context, c *cache.Cache[domain.Token], kind domain.TokenKind, address string) ([]domain.Token, error) {
	if list, err := c.Lookup(address); err == nil {
		return list, nil
	}
	list, err := a.ledger.Tokens(ctx, kind, address)
	if err != nil {
		return nil, err
	}
	c.Set(address, list)
	return list, nil
}

// build derives the full profile from a snapshot. It is a pure function of
// its inputs and the clock (campaign windows).
func (a *Aggregator) build(address string, snap snapshot) domain.ProfileState {
	state := domain.EmptyProfile()
	state.Address = address

	completed := append([]string{}, snap.completed...)
	sort.Strings(completed)
	xp := 0
	for _, id := range completed {
		xp += a.questXP(id)
	}
	state.CompletedQuestIDs = completed
	state = state.WithXP(xp)

	for _, tok := range snap.badgeTokens {
		state.Badges = append(state.Badges, a.badgeFor(tok))
	}
	for _, tok := range snap.credTokens {
		state.Credentials = append(state.Credentials, a.credentialFor(tok))
	}
	state.ClaimableCredentials = a.claimable(state, snap.claims)
	return state
}

// questXP is the declared reward of a quest, or DefaultQuestXP for quests no
// longer in the catalog.
func (a *Aggregator) questXP(questID string) int {
	if q, ok := a.content.Quest(questID); ok && q.XPReward > 0 {
		return q.XPReward
	}
	return domain.DefaultQuestXP
}

// ─── Entity Mapping ─────────────────────────────────────────────────────────

// logicalID recovers the logical id a token was minted for.
func logicalID(kind domain.TokenKind, tok domain.Token) string {
	if k, id, ok := domain.ParseMetadataURI(tok.URI); ok && k == kind {
		return id
	}
	return ledger.LogicalID(tok.TokenID)
}

func (a *Aggregator) badgeFor(tok domain.Token) domain.Badge {
	id := logicalID(domain.KindBadge, tok)
	b, ok := a.content.BadgeTemplate(id)
	if !ok {
		b = domain.Badge{Name: id, Issuer: "StarkPass"}
	}
	b.ID = id
	if !tok.MintedAt.IsZero() {
		b.IssuedAt = tok.MintedAt
	}
	return b
}

func (a *Aggregator) credentialFor(tok domain.Token) domain.Credential {
	id := logicalID(domain.KindCredential, tok)
	c, ok := a.content.CredentialTemplate(id)
	if !ok {
		c = domain.Credential{Name: id, Issuer: "StarkPass"}
	}
	c.ID = id
	c.TokenID = tok.TokenID
	c.Contract = tok.Contract
	if !tok.MintedAt.IsZero() {
		c.IssuedAt = tok.MintedAt
	}
	return c
}

// ─── Observers ──────────────────────────────────────────────────────────────

// Subscribe registers fn for profile events. Events are delivered
// synchronously after the commit that produced them, outside the lock.
func (a *Aggregator) Subscribe(fn func(domain.ProfileEvent)) (unsubscribe func()) {
	a.obsMu.Lock()
	id := a.nextObs
	a.nextObs++
	a.observers[id] = fn
	a.obsMu.Unlock()
	return func() {
		a.obsMu.Lock()
		delete(a.observers, id)
		a.obsMu.Unlock()
	}
}

func (a *Aggregator) emit(ev domain.ProfileEvent) {
	if ev.Timestamp == 0 {
		ev.Timestamp = a.now().Unix()
	}
	a.obsMu.Lock()
	fns := make([]func(domain.ProfileEvent), 0, len(a.observers))
	for _, fn := range a.observers {
		fns = append(fns, fn)
	}
	a.obsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
