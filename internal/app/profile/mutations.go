package profile

import (
	"context"
	"time"

	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/observability"
)

// ─── In-flight Guard ────────────────────────────────────────────────────────

// begin claims key for one in-flight operation. Caller holds a.mu.
func (a *Aggregator) begin(key string) error {
	if _, busy := a.inflight[key]; busy {
		return domain.ErrOperationInProgress
	}
	a.inflight[key] = struct{}{}
	return nil
}

func (a *Aggregator) end(key string) {
	a.mu.Lock()
	delete(a.inflight, key)
	a.mu.Unlock()
}

// connected returns the session if it is connected and the profile has been
// loaded for it, loading it first when needed.
func (a *Aggregator) connected(ctx context.Context) (domain.Session, error) {
	sess := a.session.Session()
	if !sess.IsConnected() {
		return domain.Session{}, domain.ErrNotConnected
	}
	a.mu.Lock()
	loaded := domain.NormalizeAddress(a.state.Address) == domain.NormalizeAddress(sess.Address)
	a.mu.Unlock()
	if !loaded {
		if _, err := a.LoadForAddress(ctx, sess.Address); err != nil {
			return domain.Session{}, err
		}
	}
	return sess, nil
}

// ─── Quest Completion ───────────────────────────────────────────────────────

// CompleteQuest mints the quest's badge and, once the mint is confirmed,
// records the completion and credits the quest's XP.
//
// A repeated completion fails with ErrAlreadyCompleted and a concurrent one
// with ErrOperationInProgress. A failed mint leaves the profile untouched.
// If the session changed while minting, the badge still exists on the
// ledger but the profile is not mutated and ErrSessionChanged is returned.
// A badge that is already on the ledger, as left by a mint reported pending
// that later confirmed, is reconciled into the profile and the call fails
// with ErrAlreadyCompleted instead of minting again.
func (a *Aggregator) CompleteQuest(ctx context.Context, questID string) (domain.MintReceipt, error) {
	sess, err := a.connected(ctx)
	if err != nil {
		return domain.MintReceipt{}, err
	}
	quest, ok := a.content.Quest(questID)
	if !ok {
		return domain.MintReceipt{}, domain.NotFound("quest", questID)
	}

	key := "quest:" + questID
	a.mu.Lock()
	if a.state.HasCompleted(questID) {
		a.mu.Unlock()
		return domain.MintReceipt{}, domain.ErrAlreadyCompleted
	}
	if err := a.begin(key); err != nil {
		a.mu.Unlock()
		return domain.MintReceipt{}, err
	}
	a.mu.Unlock()
	defer a.end(key)

	ctx, span := a.tracer.StartSpan(ctx, "profile.complete_quest", map[string]string{"address": sess.Address, "quest": questID})
	receipt, err := a.completeQuest(ctx, sess, quest)
	a.tracer.EndSpan(span, err)
	return receipt, err
}

func (a *Aggregator) completeQuest(ctx context.Context, sess domain.Session, quest domain.Quest) (domain.MintReceipt, error) {
	addr := sess.Address
	owned, err := a.ownsBadge(ctx, addr, quest.ID)
	if err != nil {
		return domain.MintReceipt{}, err
	}
	if owned {
		a.log.Info("Quest badge already on ledger, reconciling", "address", addr, "quest", quest.ID)
		if _, err := a.load(ctx, sess); err != nil {
			return domain.MintReceipt{}, err
		}
		return domain.MintReceipt{}, domain.ErrAlreadyCompleted
	}

	receipt, err := a.ledger.Mint(ctx, domain.KindBadge, addr, quest.ID, domain.BadgeURI(quest.ID))
	if err != nil {
		// A pending or timed out mint may still land.
		a.badges.Invalidate(addr)
		a.log.Warn("Quest badge mint failed", "address", addr, "quest", quest.ID, "tx", receipt.TransactionRef, "err", err)
		return receipt, err
	}

	// The ledger changed for addr whatever happens next.
	a.badges.Invalidate(addr)

	xp := quest.XPReward
	if xp <= 0 {
		xp = domain.DefaultQuestXP
	}
	if err := a.completions.RecordCompletion(addr, quest.ID, xp, receipt.TransactionRef); err != nil {
		a.log.Error("Failed to persist quest completion", "address", addr, "quest", quest.ID, "tx", receipt.TransactionRef, "err", err)
	}
	claims, claimsErr := a.claimCounts()

	a.mu.Lock()
	if !a.session.Session().SameAs(addr, sess.Generation) || !a.sameProfile(addr) {
		a.mu.Unlock()
		observability.StaleResults.WithLabelValues("complete_quest").Inc()
		a.log.Info("Discarding quest completion for stale session", "address", addr, "quest", quest.ID)
		return receipt, domain.ErrSessionChanged
	}
	next := a.state.Clone()
	next.CompletedQuestIDs = append(next.CompletedQuestIDs, quest.ID)
	next = next.WithXP(next.XP + xp)
	next.Badges = append(next.Badges, a.badgeFor(domain.Token{
		TokenID:        receipt.TokenID,
		URI:            domain.BadgeURI(quest.ID),
		Contract:       receipt.Contract,
		TransactionRef: receipt.TransactionRef,
		MintedAt:       a.mintedAt(receipt),
	}))
	if claimsErr == nil {
		// Completing a quest may unlock quest- and level-gated campaigns.
		next.ClaimableCredentials = a.claimable(next, claims)
	}
	a.state = next
	a.rev++
	a.mu.Unlock()

	observability.QuestsCompleted.Inc()
	a.log.Info("Quest completed", "address", addr, "quest", quest.ID, "xp", next.XP, "level", next.Level, "tx", receipt.TransactionRef)
	a.emit(domain.ProfileEvent{
		Type:           domain.EventQuestCompleted,
		Address:        addr,
		EntityID:       quest.ID,
		TransactionRef: receipt.TransactionRef,
		XP:             next.XP,
		Level:          next.Level,
	})
	return receipt, nil
}

// ─── Credential Claims ──────────────────────────────────────────────────────

// ClaimCredential mints a claimable credential and, once confirmed, moves it
// from ClaimableCredentials to Credentials in a single commit and counts the
// claim against its campaign.
func (a *Aggregator) ClaimCredential(ctx context.Context, credentialID string) (domain.MintReceipt, error) {
	sess, err := a.connected(ctx)
	if err != nil {
		return domain.MintReceipt{}, err
	}

	key := "claim:" + credentialID
	a.mu.Lock()
	if _, ok := claimableIndex(a.state.ClaimableCredentials, credentialID); !ok {
		a.mu.Unlock()
		return domain.MintReceipt{}, domain.NotFound("claimable credential", credentialID)
	}
	if err := a.begin(key); err != nil {
		a.mu.Unlock()
		return domain.MintReceipt{}, err
	}
	a.mu.Unlock()
	defer a.end(key)

	ctx, span := a.tracer.StartSpan(ctx, "profile.claim_credential", map[string]string{"address": sess.Address, "credential": credentialID})
	receipt, err := a.claimCredential(ctx, sess, credentialID)
	a.tracer.EndSpan(span, err)
	return receipt, err
}

func (a *Aggregator) claimCredential(ctx context.Context, sess domain.Session, credentialID string) (domain.MintReceipt, error) {
	addr := sess.Address

	campaign, hasCampaign := a.content.CampaignForCredential(credentialID)
	if hasCampaign {
		live, err := a.liveCampaign(campaign)
		if err != nil {
			return domain.MintReceipt{}, err
		}
		if live.Exhausted() {
			return domain.MintReceipt{}, domain.ErrCampaignExhausted
		}
	}

	receipt, err := a.ledger.Mint(ctx, domain.KindCredential, addr, credentialID, domain.CredentialURI(credentialID))
	if err != nil {
		a.credentials.Invalidate(addr)
		a.log.Warn("Credential mint failed", "address", addr, "credential", credentialID, "tx", receipt.TransactionRef, "err", err)
		return receipt, err
	}
	a.credentials.Invalidate(addr)

	if hasCampaign {
		if _, err := a.campaigns.RecordClaim(campaign.ID, addr, receipt.TransactionRef, campaign.TotalClaims, campaign.MaxClaims); err != nil {
			a.log.Error("Failed to record campaign claim", "campaign", campaign.ID, "address", addr, "tx", receipt.TransactionRef, "err", err)
		}
	}

	a.mu.Lock()
	if !a.session.Session().SameAs(addr, sess.Generation) || !a.sameProfile(addr) {
		a.mu.Unlock()
		observability.StaleResults.WithLabelValues("claim_credential").Inc()
		a.log.Info("Discarding credential claim for stale session", "address", addr, "credential", credentialID)
		return receipt, domain.ErrSessionChanged
	}
	i, ok := claimableIndex(a.state.ClaimableCredentials, credentialID)
	if !ok {
		// A reload committed while minting and no longer lists it.
		_, owned := claimableIndex(a.state.Credentials, credentialID)
		a.mu.Unlock()
		if owned {
			return receipt, nil
		}
		err := a.unclaimable(campaign, hasCampaign, credentialID)
		a.log.Warn("Minted credential is no longer claimable", "address", addr, "credential", credentialID, "tx", receipt.TransactionRef, "err", err)
		return receipt, err
	}
	next := a.state.Clone()
	cred := next.ClaimableCredentials[i]
	cred.TokenID = receipt.TokenID
	cred.Contract = receipt.Contract
	cred.IssuedAt = a.mintedAt(receipt)
	next.ClaimableCredentials = append(next.ClaimableCredentials[:i], next.ClaimableCredentials[i+1:]...)
	next.Credentials = append(next.Credentials, cred)
	a.state = next
	a.rev++
	a.mu.Unlock()

	observability.CredentialsClaimed.Inc()
	a.log.Info("Credential claimed", "address", addr, "credential", credentialID, "tx", receipt.TransactionRef)
	a.emit(domain.ProfileEvent{
		Type:           domain.EventCredentialClaimed,
		Address:        addr,
		EntityID:       credentialID,
		TransactionRef: receipt.TransactionRef,
		XP:             next.XP,
		Level:          next.Level,
	})
	return receipt, nil
}

// ownsBadge reports whether the ledger already holds the badge for questID.
func (a *Aggregator) ownsBadge(ctx context.Context, addr, questID string) (bool, error) {
	toks, err := a.tokens(ctx, a.badges, domain.KindBadge, addr)
	if err != nil {
		return false, err
	}
	for _, tok := range toks {
		if logicalID(domain.KindBadge, tok) == questID {
			return true, nil
		}
	}
	return false, nil
}

// unclaimable explains why a credential dropped out of ClaimableCredentials.
func (a *Aggregator) unclaimable(campaign domain.Campaign, hasCampaign bool, credentialID string) error {
	if hasCampaign {
		if live, err := a.liveCampaign(campaign); err == nil && live.Exhausted() {
			return domain.ErrCampaignExhausted
		}
	}
	return domain.NotFound("claimable credential", credentialID)
}

// mintedAt is the ledger's mint time for receipt, so a committed entity
// matches what a later reload derives from the token.
func (a *Aggregator) mintedAt(receipt domain.MintReceipt) time.Time {
	if receipt.MintedAt.IsZero() {
		return a.now().UTC()
	}
	return receipt.MintedAt.UTC()
}

// sameProfile reports whether the held profile belongs to addr. Caller
// holds a.mu.
func (a *Aggregator) sameProfile(addr string) bool {
	return domain.NormalizeAddress(a.state.Address) == domain.NormalizeAddress(addr)
}

func claimableIndex(list []domain.Credential, id string) (int, bool) {
	for i, c := range list {
		if c.ID == id {
			return i, true
		}
	}
	return -1, false
}
