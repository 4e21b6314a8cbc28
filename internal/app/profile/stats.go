package profile

import (
	"encoding/json"
	"fmt"

	"github.com/starkpass/starkpass/internal/domain"
)

// ─── Ecosystem Stats ────────────────────────────────────────────────────────

// TopContributorLimit is the leaderboard size used by Stats.
const TopContributorLimit = 10

// exportUserLimit caps the users export.
const exportUserLimit = 1000

// Stats aggregates completions and claims across every address.
func (a *Aggregator) Stats() (domain.EcosystemStats, error) {
	return a.stats(TopContributorLimit)
}

func (a *Aggregator) stats(contributors int) (domain.EcosystemStats, error) {
	counts, err := a.statsSrc.CompletionCounts()
	if err != nil {
		return domain.EcosystemStats{}, fmt.Errorf("completion counts: %w", err)
	}
	users, err := a.statsSrc.DistinctAddresses()
	if err != nil {
		return domain.EcosystemStats{}, fmt.Errorf("distinct addresses: %w", err)
	}
	top, err := a.statsSrc.TopContributors(contributors)
	if err != nil {
		return domain.EcosystemStats{}, fmt.Errorf("top contributors: %w", err)
	}
	if top == nil {
		top = []domain.Contributor{}
	}
	campaigns, err := a.Campaigns()
	if err != nil {
		return domain.EcosystemStats{}, err
	}

	quests := a.content.Quests()
	out := domain.EcosystemStats{
		TotalUsers:      users,
		TotalQuests:     len(quests),
		Quests:          make([]domain.QuestStat, 0, len(quests)),
		Campaigns:       make([]domain.CampaignStat, 0, len(campaigns)),
		TopContributors: top,
	}
	for _, q := range quests {
		n := counts[q.ID]
		out.TotalCompletions += n
		out.Quests = append(out.Quests, domain.QuestStat{QuestID: q.ID, Title: q.Title, Completions: n})
	}
	for _, c := range campaigns {
		out.TotalCredentialClaims += c.TotalClaims
		out.Campaigns = append(out.Campaigns, domain.CampaignStat{
			CampaignID:  c.ID,
			Title:       c.Title,
			TotalClaims: c.TotalClaims,
			MaxClaims:   c.MaxClaims,
			ClaimRate:   c.ClaimRate,
		})
	}
	if users > 0 && len(quests) > 0 {
		out.AverageCompletionRate = float64(out.TotalCompletions) / float64(users*len(quests)) * 100
	}
	return out, nil
}

// Export renders one stats dataset as indented JSON.
func (a *Aggregator) Export(kind domain.ExportKind) ([]byte, error) {
	if _, ok := domain.ParseExportKind(string(kind)); !ok {
		return nil, domain.NotFound("export", string(kind))
	}
	limit := TopContributorLimit
	if kind == domain.ExportUsers {
		limit = exportUserLimit
	}
	s, err := a.stats(limit)
	if err != nil {
		return nil, err
	}

	var v any
	switch kind {
	case domain.ExportUsers:
		v = s.TopContributors
	case domain.ExportQuests:
		v = s.Quests
	case domain.ExportCampaigns:
		v = s.Campaigns
	default:
		v = s
	}
	return json.MarshalIndent(v, "", "  ")
}
