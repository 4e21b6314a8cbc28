package domain

// ─── Ecosystem Stats ────────────────────────────────────────────────────────
// Aggregates across every address that has used this node.

// Contributor is one leaderboard row.
type Contributor struct {
	Address         string `json:"address"`
	XP              int    `json:"xp"`
	Level           int    `json:"level"`
	QuestsCompleted int    `json:"quests_completed"`
}

// QuestStat summarises completions of a single quest.
type QuestStat struct {
	QuestID     string `json:"quest_id"`
	Title       string `json:"title"`
	Completions int    `json:"completions"`
}

// CampaignStat summarises claims of a single campaign.
type CampaignStat struct {
	CampaignID  string  `json:"campaign_id"`
	Title       string  `json:"title"`
	TotalClaims int     `json:"total_claims"`
	MaxClaims   int     `json:"max_claims"`
	ClaimRate   float64 `json:"claim_rate"`
}

// EcosystemStats is the dashboard overview.
type EcosystemStats struct {
	TotalUsers            int            `json:"total_users"`
	TotalQuests           int            `json:"total_quests"`
	TotalCompletions      int            `json:"total_completions"`
	TotalCredentialClaims int            `json:"total_credential_claims"`
	AverageCompletionRate float64        `json:"average_completion_rate"`
	Quests                []QuestStat    `json:"quests"`
	Campaigns             []CampaignStat `json:"campaigns"`
	TopContributors       []Contributor  `json:"top_contributors"`
}

// ExportKind selects an export dataset.
type ExportKind string

const (
	ExportUsers     ExportKind = "users"
	ExportQuests    ExportKind = "quests"
	ExportCampaigns ExportKind = "campaigns"
	ExportEcosystem ExportKind = "ecosystem"
)

// ParseExportKind validates s as an ExportKind.
func ParseExportKind(s string) (ExportKind, bool) {
	switch k := ExportKind(s); k {
	case ExportUsers, ExportQuests, ExportCampaigns, ExportEcosystem:
		return k, true
	}
	return "", false
}
