package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/starkpass/starkpass/internal/app/ledger"
	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/content"
	"github.com/starkpass/starkpass/internal/infra/sqlite"
)

// ─── Harness ────────────────────────────────────────────────────────────────

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeSession struct {
	mu sync.Mutex
	s  domain.Session
}

func (f *fakeSession) Session() domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.s
}

func (f *fakeSession) connect(addr string) {
	f.mu.Lock()
	f.s = domain.Session{Address: addr, ConnectorID: "mock", NetworkID: domain.NetworkGoerli, State: domain.Connected, Generation: f.s.Generation + 1}
	f.mu.Unlock()
}

func (f *fakeSession) disconnect() {
	f.mu.Lock()
	f.s = domain.Session{State: domain.Disconnected, Generation: f.s.Generation + 1}
	f.mu.Unlock()
}

// gatedLedger holds every Mint until release is closed.
type gatedLedger struct {
	domain.Ledger
	started chan struct{}
	release chan struct{}
}

func (g *gatedLedger) Mint(ctx context.Context, kind domain.TokenKind, to, id, uri string) (domain.MintReceipt, error) {
	g.started <- struct{}{}
	<-g.release
	return g.Ledger.Mint(ctx, kind, to, id, uri)
}

// pendingLedger lets every Mint land but reports it as unconfirmed.
type pendingLedger struct {
	domain.Ledger
}

func (p *pendingLedger) Mint(ctx context.Context, kind domain.TokenKind, to, id, uri string) (domain.MintReceipt, error) {
	receipt, err := p.Ledger.Mint(ctx, kind, to, id, uri)
	if err != nil {
		return receipt, err
	}
	return receipt, domain.MintPending(receipt.TransactionRef, nil)
}

type testEnv struct {
	agg     *Aggregator
	mock    *ledger.Mock
	session *fakeSession
	db      *sqlite.DB
}

func newEnv(t *testing.T, wrap func(domain.Ledger) domain.Ledger) *testEnv {
	t.Helper()
	cat, err := content.Load()
	if err != nil {
		t.Fatalf("content.Load() error: %v", err)
	}
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock := ledger.NewMock(ledger.MockConfig{Starter: cat.StarterHoldings()})
	var l domain.Ledger = mock
	if wrap != nil {
		l = wrap(mock)
	}
	sess := &fakeSession{s: domain.Session{State: domain.Disconnected}}
	agg := New(Deps{
		Ledger:      l,
		Session:     sess,
		Content:     cat,
		Completions: db,
		Campaigns:   db,
		Stats:       db,
	})
	agg.now = func() time.Time { return testNow }
	return &testEnv{agg: agg, mock: mock, session: sess, db: db}
}

func (e *testEnv) connectAndLoad(t *testing.T, addr string) domain.ProfileState {
	t.Helper()
	e.session.connect(addr)
	state, err := e.agg.LoadForAddress(context.Background(), addr)
	if err != nil {
		t.Fatalf("LoadForAddress(%s) error: %v", addr, err)
	}
	return state
}

func ids[T any](list []T, id func(T) string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, id(v))
	}
	return out
}

func credIDs(list []domain.Credential) []string {
	return ids(list, func(c domain.Credential) string { return c.ID })
}

func badgeIDs(list []domain.Badge) []string {
	return ids(list, func(b domain.Badge) string { return b.ID })
}

func findBadge(list []domain.Badge, id string) domain.Badge {
	for _, b := range list {
		if b.ID == id {
			return b
		}
	}
	return domain.Badge{}
}

func findCred(list []domain.Credential, id string) domain.Credential {
	for _, c := range list {
		if c.ID == id {
			return c
		}
	}
	return domain.Credential{}
}

func contains(list []string, id string) int {
	n := 0
	for _, v := range list {
		if v == id {
			n++
		}
	}
	return n
}

// ─── Load ───────────────────────────────────────────────────────────────────

func TestLoadForAddress_StarterProfile(t *testing.T) {
	e := newEnv(t, nil)
	state := e.connectAndLoad(t, "0xAA")

	if state.XP != 0 || state.Level != 1 {
		t.Errorf("xp/level = %d/%d, want 0/1", state.XP, state.Level)
	}
	if got := badgeIDs(state.Badges); !reflect.DeepEqual(got, []string{"badge-1", "badge-2", "badge-3"}) {
		t.Errorf("badges = %v", got)
	}
	if got := credIDs(state.Credentials); !reflect.DeepEqual(got, []string{"cred-1", "cred-2", "cred-3"}) {
		t.Errorf("credentials = %v", got)
	}
	if got := credIDs(state.ClaimableCredentials); !reflect.DeepEqual(got, []string{"claimable-cred-1", "claimable-cred-2"}) {
		t.Errorf("claimable = %v, want the two open campaigns", got)
	}
	if state.Badges[0].Name != "Early Adopter" {
		t.Errorf("badge name = %q, want template name", state.Badges[0].Name)
	}
	if state.Credentials[0].TokenID == "" || state.Credentials[0].Contract == "" {
		t.Errorf("credential token fields empty: %+v", state.Credentials[0])
	}
}

func TestLoadForAddress_Idempotent(t *testing.T) {
	e := newEnv(t, nil)
	first := e.connectAndLoad(t, "0xAA")
	second, err := e.agg.LoadForAddress(context.Background(), "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("second load differs:\n%s\n%s", a, b)
	}
}

func TestLoadForAddress_XPFromDeclaredRewards(t *testing.T) {
	e := newEnv(t, nil)
	// quest-3 (300) + quest-4 (150) + a retired quest (default 100)
	for _, q := range []string{"quest-3", "quest-4", "quest-retired"} {
		if err := e.db.RecordCompletion("0xAA", q, 0, "0xtx"); err != nil {
			t.Fatal(err)
		}
	}
	state := e.connectAndLoad(t, "0xAA")
	if state.XP != 550 || state.Level != 2 {
		t.Errorf("xp/level = %d/%d, want 550/2", state.XP, state.Level)
	}
	if got := credIDs(state.ClaimableCredentials); contains(got, "claimable-cred-3") != 1 {
		t.Errorf("quest-4 completion should unlock claimable-cred-3, got %v", got)
	}
}

func TestLoadForAddress_NotConnected(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.agg.LoadForAddress(context.Background(), "0xAA"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("disconnected load error = %v, want ErrNotConnected", err)
	}
	e.session.connect("0xAA")
	if _, err := e.agg.LoadForAddress(context.Background(), "0xBB"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("other-address load error = %v, want ErrNotConnected", err)
	}
}

// ─── Quest Completion ───────────────────────────────────────────────────────

func TestCompleteQuest_FreshSession(t *testing.T) {
	e := newEnv(t, nil)
	before := e.connectAndLoad(t, "0xAA")

	receipt, err := e.agg.CompleteQuest(context.Background(), "quest-1")
	if err != nil {
		t.Fatalf("CompleteQuest() error: %v", err)
	}
	if receipt.TransactionRef == "" {
		t.Error("empty transaction ref")
	}

	state := e.agg.State()
	if state.XP != 100 || state.Level != 1 {
		t.Errorf("xp/level = %d/%d, want 100/1", state.XP, state.Level)
	}
	if !state.HasCompleted("quest-1") {
		t.Error("quest-1 not completed")
	}
	if len(state.Badges) != len(before.Badges)+1 {
		t.Fatalf("badges = %d, want %d", len(state.Badges), len(before.Badges)+1)
	}
	badge := state.Badges[len(state.Badges)-1]
	if badge.ID != "quest-1" || badge.Name != "Welcome Badge" {
		t.Errorf("new badge = %+v", badge)
	}

	done, err := e.db.CompletedQuests("0xAA")
	if err != nil || !reflect.DeepEqual(done, []string{"quest-1"}) {
		t.Errorf("persisted completions = %v, %v", done, err)
	}
}

func TestCompleteQuest_LevelUp(t *testing.T) {
	e := newEnv(t, nil)
	for _, q := range []string{"quest-3", "quest-4"} {
		if err := e.db.RecordCompletion("0xAA", q, 0, "0xtx"); err != nil {
			t.Fatal(err)
		}
	}
	if s := e.connectAndLoad(t, "0xAA"); s.XP != 450 || s.Level != 1 {
		t.Fatalf("start xp/level = %d/%d, want 450/1", s.XP, s.Level)
	}
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); err != nil {
		t.Fatal(err)
	}
	if s := e.agg.State(); s.XP != 550 || s.Level != 2 {
		t.Errorf("xp/level = %d/%d, want 550/2", s.XP, s.Level)
	}
}

func TestCompleteQuest_Twice(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-2"); err != nil {
		t.Fatal(err)
	}
	after := e.agg.State()

	if _, err := e.agg.CompleteQuest(context.Background(), "quest-2"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("second CompleteQuest error = %v, want ErrAlreadyCompleted", err)
	}
	if !reflect.DeepEqual(after, e.agg.State()) {
		t.Error("state changed after rejected completion")
	}
}

func TestCompleteQuest_Errors(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrNotConnected) {
		t.Errorf("disconnected error = %v, want ErrNotConnected", err)
	}
	e.connectAndLoad(t, "0xAA")
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown quest error = %v, want ErrNotFound", err)
	}
}

func TestCompleteQuest_MintFailureLeavesStateUntouched(t *testing.T) {
	e := newEnv(t, nil)
	before := e.connectAndLoad(t, "0xAA")

	e.mock.FailNextMint(errors.New("insufficient gas"))
	_, err := e.agg.CompleteQuest(context.Background(), "quest-1")
	if !errors.Is(err, domain.ErrMintFailed) {
		t.Fatalf("error = %v, want ErrMintFailed", err)
	}
	if !reflect.DeepEqual(before, e.agg.State()) {
		t.Error("state mutated by failed mint")
	}
	if done, _ := e.db.CompletedQuests("0xAA"); len(done) != 0 {
		t.Errorf("completion persisted after failed mint: %v", done)
	}
}

func TestCompleteQuest_InvalidatesBadgeCache(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xBB")
	if _, ok := e.agg.badges.Get("0xBB"); !ok {
		t.Fatal("badge list not cached after load")
	}

	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := e.agg.badges.Get("0xBB"); ok {
		t.Error("badge cache still holds the pre-mint list")
	}

	state, err := e.agg.LoadForAddress(context.Background(), "0xBB")
	if err != nil {
		t.Fatal(err)
	}
	if contains(badgeIDs(state.Badges), "quest-1") != 1 {
		t.Errorf("reload badges = %v, want the minted quest-1 badge", badgeIDs(state.Badges))
	}
}

func TestCompleteQuest_ConcurrentDuplicate(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.CompleteQuest(context.Background(), "quest-1")
		errc <- err
	}()
	<-gate.started

	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrOperationInProgress) {
		t.Errorf("duplicate error = %v, want ErrOperationInProgress", err)
	}
	close(gate.release)
	if err := <-errc; err != nil {
		t.Fatalf("first CompleteQuest error: %v", err)
	}
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("after completion error = %v, want ErrAlreadyCompleted", err)
	}
}

func TestCompleteQuest_PendingMintReconciledOnReload(t *testing.T) {
	pending := &pendingLedger{}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { pending.Ledger = l; return pending })
	before := e.connectAndLoad(t, "0xAA")

	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrMintPending) {
		t.Fatalf("error = %v, want ErrMintPending", err)
	}
	if !reflect.DeepEqual(before, e.agg.State()) {
		t.Error("state mutated by unconfirmed mint")
	}

	// The mint confirmed after all.
	state, err := e.agg.LoadForAddress(context.Background(), "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	if !state.HasCompleted("quest-1") || state.XP != 100 {
		t.Errorf("reload completed=%v xp=%d, want quest-1 credited with 100", state.CompletedQuestIDs, state.XP)
	}
	if n := contains(badgeIDs(state.Badges), "quest-1"); n != 1 {
		t.Errorf("quest-1 badges = %d, want 1", n)
	}
	if done, _ := e.db.CompletedQuests("0xAA"); !reflect.DeepEqual(done, []string{"quest-1"}) {
		t.Errorf("persisted completions = %v, want backfilled quest-1", done)
	}
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Errorf("retry error = %v, want ErrAlreadyCompleted", err)
	}
}

func TestCompleteQuest_RetryAfterPendingDoesNotMintAgain(t *testing.T) {
	pending := &pendingLedger{}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { pending.Ledger = l; return pending })
	e.connectAndLoad(t, "0xAA")

	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrMintPending) {
		t.Fatalf("error = %v, want ErrMintPending", err)
	}
	// Retry without a reload in between.
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); !errors.Is(err, domain.ErrAlreadyCompleted) {
		t.Fatalf("retry error = %v, want ErrAlreadyCompleted", err)
	}

	toks, err := e.mock.Tokens(context.Background(), domain.KindBadge, "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	minted := 0
	for _, tok := range toks {
		if ledger.LogicalID(tok.TokenID) == "quest-1" {
			minted++
		}
	}
	if minted != 1 {
		t.Errorf("quest-1 badges on ledger = %d, want 1", minted)
	}
	if s := e.agg.State(); !s.HasCompleted("quest-1") || s.XP != 100 {
		t.Errorf("state after retry completed=%v xp=%d, want quest-1 credited", s.CompletedQuestIDs, s.XP)
	}
}

func TestCompleteQuest_IssuedAtStableAcrossReload(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); err != nil {
		t.Fatal(err)
	}
	committed := e.agg.State().Badges
	reloaded, err := e.agg.LoadForAddress(context.Background(), "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	if !committed[len(committed)-1].IssuedAt.Equal(findBadge(reloaded.Badges, "quest-1").IssuedAt) {
		t.Errorf("IssuedAt changed across reload: %v then %v", committed[len(committed)-1].IssuedAt, findBadge(reloaded.Badges, "quest-1").IssuedAt)
	}
}

func TestCompleteQuest_DisconnectWhileMinting(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.CompleteQuest(context.Background(), "quest-1")
		errc <- err
	}()
	<-gate.started

	e.session.disconnect()
	e.agg.Reset()
	close(gate.release)

	if err := <-errc; !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("error = %v, want ErrSessionChanged", err)
	}
	if s := e.agg.State(); s.Address != "" || s.XP != 0 || len(s.CompletedQuestIDs) != 0 || len(s.Badges) != 0 {
		t.Errorf("profile mutated after disconnect: %+v", s)
	}
}

func TestCompleteQuest_ReconnectSameAddressWhileMinting(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	before := e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.CompleteQuest(context.Background(), "quest-1")
		errc <- err
	}()
	<-gate.started

	e.session.disconnect()
	e.session.connect("0xAA")
	close(gate.release)

	if err := <-errc; !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("error = %v, want ErrSessionChanged", err)
	}
	if s := e.agg.State(); s.HasCompleted("quest-1") || s.XP != before.XP {
		t.Errorf("profile credited for a previous session: %+v", s)
	}
}

// ─── Credential Claims ──────────────────────────────────────────────────────

func TestClaimCredential_MovesExactlyOnce(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")

	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1"); err != nil {
		t.Fatalf("ClaimCredential() error: %v", err)
	}
	state := e.agg.State()
	if n := contains(credIDs(state.Credentials), "claimable-cred-1"); n != 1 {
		t.Errorf("credentials contain claimable-cred-1 %d times", n)
	}
	if n := contains(credIDs(state.ClaimableCredentials), "claimable-cred-1"); n != 0 {
		t.Errorf("claimables still contain claimable-cred-1")
	}
	claimed := state.Credentials[len(state.Credentials)-1]
	if claimed.TokenID == "" || claimed.Contract == "" {
		t.Errorf("claimed credential missing token fields: %+v", claimed)
	}

	if n, _ := e.db.ClaimCount("campaign-1"); n != 1 {
		t.Errorf("campaign-1 claims = %d, want 1", n)
	}
	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("second claim error = %v, want ErrNotFound", err)
	}

	reloaded, err := e.agg.LoadForAddress(context.Background(), "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	if contains(credIDs(reloaded.Credentials), "claimable-cred-1") != 1 || contains(credIDs(reloaded.ClaimableCredentials), "claimable-cred-1") != 0 {
		t.Errorf("reload broke the claim: owned %v, claimable %v", credIDs(reloaded.Credentials), credIDs(reloaded.ClaimableCredentials))
	}
}

func TestClaimCredential_NotClaimable(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")
	for _, id := range []string{"claimable-cred-3", "cred-1", "nope"} {
		if _, err := e.agg.ClaimCredential(context.Background(), id); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("ClaimCredential(%s) error = %v, want ErrNotFound", id, err)
		}
	}
}

func TestClaimCredential_MintFailure(t *testing.T) {
	e := newEnv(t, nil)
	before := e.connectAndLoad(t, "0xAA")
	e.mock.FailNextMint(errors.New("reverted"))
	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-2"); !errors.Is(err, domain.ErrMintFailed) {
		t.Fatalf("error = %v, want ErrMintFailed", err)
	}
	if !reflect.DeepEqual(before, e.agg.State()) {
		t.Error("state mutated by failed mint")
	}
	if n, _ := e.db.ClaimCount("campaign-2"); n != 0 {
		t.Errorf("claim recorded after failed mint: %d", n)
	}
}

func TestClaimCredential_CampaignExhausted(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")

	// campaign-2 starts at 120 of 200.
	for i := 0; i < 80; i++ {
		if _, err := e.db.RecordClaim("campaign-2", fmt.Sprintf("0xother%d", i), "0xtx", 120, 200); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-2"); !errors.Is(err, domain.ErrCampaignExhausted) {
		t.Errorf("error = %v, want ErrCampaignExhausted", err)
	}
}

func TestClaimCredential_DisconnectWhileMinting(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1")
		errc <- err
	}()
	<-gate.started

	e.session.disconnect()
	e.agg.Reset()
	close(gate.release)

	if err := <-errc; !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("error = %v, want ErrSessionChanged", err)
	}
	if s := e.agg.State(); s.Address != "" || len(s.Credentials) != 0 {
		t.Errorf("profile mutated after disconnect: %+v", s)
	}
}

func TestClaimCredential_ReconnectSameAddressWhileMinting(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1")
		errc <- err
	}()
	<-gate.started

	// Same address, new generation: still a different session.
	e.session.disconnect()
	e.session.connect("0xAA")
	close(gate.release)

	if err := <-errc; !errors.Is(err, domain.ErrSessionChanged) {
		t.Errorf("error = %v, want ErrSessionChanged", err)
	}
}

func TestClaimCredential_ExhaustedWhileMinting(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-2")
		errc <- err
	}()
	<-gate.started

	// Other wallets drain campaign-2 and a reload drops the credential.
	for i := 0; i < 80; i++ {
		if _, err := e.db.RecordClaim("campaign-2", fmt.Sprintf("0xother%d", i), "0xtx", 120, 200); err != nil {
			t.Fatal(err)
		}
	}
	state, err := e.agg.LoadForAddress(context.Background(), "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	if contains(credIDs(state.ClaimableCredentials), "claimable-cred-2") != 0 {
		t.Fatalf("claimable still lists the exhausted credential: %v", credIDs(state.ClaimableCredentials))
	}
	close(gate.release)

	err = <-errc
	if !errors.Is(err, domain.ErrCampaignExhausted) {
		t.Errorf("error = %v, want ErrCampaignExhausted", err)
	}
	if errors.Is(err, domain.ErrSessionChanged) {
		t.Error("same session reported as changed")
	}
}

func TestClaimCredential_AlreadyReloadedWhileMinting(t *testing.T) {
	gate := &gatedLedger{started: make(chan struct{}, 1), release: make(chan struct{})}
	e := newEnv(t, func(l domain.Ledger) domain.Ledger { gate.Ledger = l; return gate })
	e.connectAndLoad(t, "0xAA")

	errc := make(chan error, 1)
	go func() {
		_, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1")
		errc <- err
	}()
	<-gate.started

	// Simulate a reload that already sees the landed credential.
	e.agg.mu.Lock()
	next := e.agg.state.Clone()
	i, _ := claimableIndex(next.ClaimableCredentials, "claimable-cred-1")
	next.Credentials = append(next.Credentials, next.ClaimableCredentials[i])
	next.ClaimableCredentials = append(next.ClaimableCredentials[:i], next.ClaimableCredentials[i+1:]...)
	e.agg.state = next
	e.agg.rev++
	e.agg.mu.Unlock()
	close(gate.release)

	if err := <-errc; err != nil {
		t.Errorf("error = %v, want nil for a credential the profile already holds", err)
	}
	if n := contains(credIDs(e.agg.State().Credentials), "claimable-cred-1"); n != 1 {
		t.Errorf("claimable-cred-1 held %d times, want 1", n)
	}
}

func TestClaimCredential_IssuedAtStableAcrossReload(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")
	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1"); err != nil {
		t.Fatal(err)
	}
	committed := findCred(e.agg.State().Credentials, "claimable-cred-1")
	reloaded, err := e.agg.LoadForAddress(context.Background(), "0xAA")
	if err != nil {
		t.Fatal(err)
	}
	if got := findCred(reloaded.Credentials, "claimable-cred-1"); !got.IssuedAt.Equal(committed.IssuedAt) || got.TokenID != committed.TokenID {
		t.Errorf("credential changed across reload: %+v then %+v", committed, got)
	}
}

// ─── Eligibility ────────────────────────────────────────────────────────────

func TestIsEligible(t *testing.T) {
	base := domain.Campaign{
		ID:              "c",
		CredentialID:    "cred-x",
		EligibilityRule: RuleOpen,
		StartsAt:        testNow.Add(-time.Hour),
		EndsAt:          testNow.Add(time.Hour),
		MaxClaims:       10,
		TotalClaims:     3,
	}
	state := domain.EmptyProfile().WithXP(1200)
	state.CompletedQuestIDs = []string{"quest-4"}

	tests := []struct {
		name   string
		mutate func(*domain.Campaign, *domain.ProfileState)
		want   bool
	}{
		{"open", func(*domain.Campaign, *domain.ProfileState) {}, true},
		{"not started", func(c *domain.Campaign, _ *domain.ProfileState) { c.StartsAt = testNow.Add(time.Minute) }, false},
		{"ended", func(c *domain.Campaign, _ *domain.ProfileState) { c.EndsAt = testNow }, false},
		{"exhausted", func(c *domain.Campaign, _ *domain.ProfileState) { c.TotalClaims = 10 }, false},
		{"already owned", func(_ *domain.Campaign, s *domain.ProfileState) {
			s.Credentials = []domain.Credential{{ID: "cred-x"}}
		}, false},
		{"quest done", func(c *domain.Campaign, _ *domain.ProfileState) { c.EligibilityRule = "quest:quest-4" }, true},
		{"quest missing", func(c *domain.Campaign, _ *domain.ProfileState) { c.EligibilityRule = "quest:quest-1" }, false},
		{"level reached", func(c *domain.Campaign, _ *domain.ProfileState) { c.EligibilityRule = "level:3" }, true},
		{"level short", func(c *domain.Campaign, _ *domain.ProfileState) { c.EligibilityRule = "level:4" }, false},
		{"bad level", func(c *domain.Campaign, _ *domain.ProfileState) { c.EligibilityRule = "level:x" }, false},
		{"unknown rule", func(c *domain.Campaign, _ *domain.ProfileState) { c.EligibilityRule = "vip" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, s := base, state.Clone()
			tt.mutate(&c, &s)
			if got := IsEligible(c, s, testNow); got != tt.want {
				t.Errorf("IsEligible() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ─── Views, Stats, Export ───────────────────────────────────────────────────

func TestQuestsAndCampaignsViews(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); err != nil {
		t.Fatal(err)
	}

	quests := e.agg.Quests()
	if len(quests) != 5 || !quests[0].Completed || quests[1].Completed {
		t.Errorf("quest views = %+v", quests)
	}

	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-1"); err != nil {
		t.Fatal(err)
	}
	campaigns, err := e.agg.Campaigns()
	if err != nil {
		t.Fatal(err)
	}
	c1 := campaigns[0]
	if c1.ID != "campaign-1" || c1.TotalClaims != 251 || c1.Eligible || !c1.Active {
		t.Errorf("campaign-1 view = %+v", c1)
	}
	if !campaigns[1].Eligible || campaigns[2].Eligible {
		t.Errorf("eligibility = %v/%v, want true/false", campaigns[1].Eligible, campaigns[2].Eligible)
	}
}

func TestStats(t *testing.T) {
	e := newEnv(t, nil)
	e.connectAndLoad(t, "0xAA")
	for _, q := range []string{"quest-1", "quest-2"} {
		if _, err := e.agg.CompleteQuest(context.Background(), q); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.db.RecordCompletion("0xBB", "quest-1", 100, "0xtx"); err != nil {
		t.Fatal(err)
	}

	s, err := e.agg.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalUsers != 2 || s.TotalQuests != 5 || s.TotalCompletions != 3 {
		t.Errorf("totals = users %d quests %d completions %d", s.TotalUsers, s.TotalQuests, s.TotalCompletions)
	}
	if s.Quests[0].QuestID != "quest-1" || s.Quests[0].Completions != 2 {
		t.Errorf("quest-1 stat = %+v", s.Quests[0])
	}
	if s.TotalCredentialClaims != 250+120+75 {
		t.Errorf("credential claims = %d", s.TotalCredentialClaims)
	}
	if want := 3.0 / 10 * 100; s.AverageCompletionRate != want {
		t.Errorf("average completion rate = %v, want %v", s.AverageCompletionRate, want)
	}
	if len(s.TopContributors) != 2 || s.TopContributors[0].XP != 300 {
		t.Errorf("top contributors = %+v", s.TopContributors)
	}
}

func TestExport(t *testing.T) {
	e := newEnv(t, nil)
	for _, kind := range []domain.ExportKind{domain.ExportUsers, domain.ExportQuests, domain.ExportCampaigns, domain.ExportEcosystem} {
		data, err := e.agg.Export(kind)
		if err != nil {
			t.Fatalf("Export(%s) error: %v", kind, err)
		}
		if !json.Valid(data) {
			t.Errorf("Export(%s) is not JSON: %s", kind, data)
		}
	}
	var quests []domain.QuestStat
	data, _ := e.agg.Export(domain.ExportQuests)
	if err := json.Unmarshal(data, &quests); err != nil || len(quests) != 5 {
		t.Errorf("quests export = %d rows, %v", len(quests), err)
	}
	if _, err := e.agg.Export("bogus"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Export(bogus) error = %v, want ErrNotFound", err)
	}
}

// ─── Events & Session Following ─────────────────────────────────────────────

func TestEvents(t *testing.T) {
	e := newEnv(t, nil)
	var mu sync.Mutex
	var got []domain.EventType
	unsub := e.agg.Subscribe(func(ev domain.ProfileEvent) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	e.connectAndLoad(t, "0xAA")
	if _, err := e.agg.CompleteQuest(context.Background(), "quest-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.agg.ClaimCredential(context.Background(), "claimable-cred-2"); err != nil {
		t.Fatal(err)
	}
	e.agg.OnSession(domain.Session{State: domain.Disconnected})
	unsub()
	e.agg.Reset()

	want := []domain.EventType{domain.EventProfileLoaded, domain.EventQuestCompleted, domain.EventCredentialClaimed, domain.EventProfileReset}
	mu.Lock()
	defer mu.Unlock()
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestOnSession_LoadsInBackground(t *testing.T) {
	e := newEnv(t, nil)
	loaded := make(chan domain.ProfileEvent, 1)
	e.agg.Subscribe(func(ev domain.ProfileEvent) {
		if ev.Type == domain.EventProfileLoaded {
			loaded <- ev
		}
	})

	e.session.connect("0xAA")
	e.agg.OnSession(e.session.Session())

	select {
	case ev := <-loaded:
		if ev.Address != "0xAA" {
			t.Errorf("loaded address = %q", ev.Address)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("profile never loaded")
	}
	if s := e.agg.State(); s.Address != "0xAA" || len(s.Badges) != 3 {
		t.Errorf("state after background load = %+v", s)
	}
}
