package profile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Campaign Eligibility ───────────────────────────────────────────────────

// Eligibility rules understood by IsEligible.
const (
	RuleOpen        = "open"
	RuleQuestPrefix = "quest:"
	RuleLevelPrefix = "level:"
)

// IsEligible reports whether state may claim campaign's credential at t:
// the campaign is inside its window and not exhausted, the credential is not
// already owned, and the eligibility rule holds.
func IsEligible(campaign domain.Campaign, state domain.ProfileState, t time.Time) bool {
	if !campaign.ActiveAt(t) || campaign.Exhausted() {
		return false
	}
	for _, c := range state.Credentials {
		if c.ID == campaign.CredentialID {
			return false
		}
	}
	return ruleHolds(campaign.EligibilityRule, state)
}

func ruleHolds(rule string, state domain.ProfileState) bool {
	switch {
	case rule == "" || rule == RuleOpen:
		return true
	case strings.HasPrefix(rule, RuleQuestPrefix):
		return state.HasCompleted(strings.TrimPrefix(rule, RuleQuestPrefix))
	case strings.HasPrefix(rule, RuleLevelPrefix):
		n, err := strconv.Atoi(strings.TrimPrefix(rule, RuleLevelPrefix))
		return err == nil && state.Level >= n
	}
	return false
}

// claimCounts returns the persisted claim count per campaign.
func (a *Aggregator) claimCounts() (map[string]int, error) {
	campaigns := a.content.Campaigns()
	counts := make(map[string]int, len(campaigns))
	for _, c := range campaigns {
		n, err := a.campaigns.ClaimCount(c.ID)
		if err != nil {
			return nil, fmt.Errorf("claim count %s: %w", c.ID, err)
		}
		counts[c.ID] = n
	}
	return counts, nil
}

// liveCampaign returns c with TotalClaims including persisted claims.
func (a *Aggregator) liveCampaign(c domain.Campaign) (domain.Campaign, error) {
	n, err := a.campaigns.ClaimCount(c.ID)
	if err != nil {
		return c, fmt.Errorf("claim count %s: %w", c.ID, err)
	}
	return withClaims(c, n), nil
}

func withClaims(c domain.Campaign, n int) domain.Campaign {
	c.TotalClaims += n
	if c.TotalClaims > c.MaxClaims {
		c.TotalClaims = c.MaxClaims
	}
	return c
}

// claimable lists the credentials state may claim, in catalog order.
func (a *Aggregator) claimable(state domain.ProfileState, claims map[string]int) []domain.Credential {
	now := a.now()
	out := []domain.Credential{}
	for _, c := range a.content.Campaigns() {
		live := withClaims(c, claims[c.ID])
		if !IsEligible(live, state, now) {
			continue
		}
		cred, ok := a.content.CredentialTemplate(c.CredentialID)
		if !ok {
			continue
		}
		cred.ID = c.CredentialID
		out = append(out, cred)
	}
	return out
}

// ─── Catalog Views ──────────────────────────────────────────────────────────

// QuestView is a quest annotated for the current profile.
type QuestView struct {
	domain.Quest
	Completed bool `json:"completed"`
}

// Quests lists the quest catalog with completion flags for the current
// profile.
func (a *Aggregator) Quests() []QuestView {
	state := a.State()
	quests := a.content.Quests()
	out := make([]QuestView, 0, len(quests))
	for _, q := range quests {
		out = append(out, QuestView{Quest: q, Completed: state.HasCompleted(q.ID)})
	}
	return out
}

// CampaignView is a campaign with live claim totals and eligibility.
type CampaignView struct {
	domain.Campaign
	Active    bool    `json:"active"`
	Eligible  bool    `json:"eligible"`
	ClaimRate float64 `json:"claim_rate"`
}

// Campaigns lists every campaign with persisted claims applied. Eligible is
// false while no wallet is connected.
func (a *Aggregator) Campaigns() ([]CampaignView, error) {
	claims, err := a.claimCounts()
	if err != nil {
		return nil, err
	}
	state := a.State()
	now := a.now()
	campaigns := a.content.Campaigns()
	out := make([]CampaignView, 0, len(campaigns))
	for _, c := range campaigns {
		live := withClaims(c, claims[c.ID])
		out = append(out, CampaignView{
			Campaign:  live,
			Active:    live.ActiveAt(now),
			Eligible:  state.Address != "" && IsEligible(live, state, now),
			ClaimRate: live.ClaimRate(),
		})
	}
	return out, nil
}
