// Package content loads the static quest and campaign catalog.
//
// The default catalog is embedded in the binary; operators can point the
// daemon at their own TOML file with the same layout.
package content

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/starkpass/starkpass/internal/domain"
)

//go:embed catalog.toml
var defaultCatalog string

// Starter lists the logical ids seeded into a fresh mock ledger address.
type Starter struct {
	Badges      []string `toml:"badges"`
	Credentials []string `toml:"credentials"`
}

// Catalog is an immutable, indexed content source.
type Catalog struct {
	Starter     Starter             `toml:"starter"`
	BadgeList   []domain.Badge      `toml:"badges"`
	CredList    []domain.Credential `toml:"credentials"`
	QuestList   []domain.Quest      `toml:"quests"`
	CampaignSet []domain.Campaign   `toml:"campaigns"`

	badges    map[string]domain.Badge
	creds     map[string]domain.Credential
	quests    map[string]domain.Quest
	campaigns map[string]domain.Campaign
	byCredID  map[string]domain.Campaign
}

// Load returns the embedded default catalog.
func Load() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes and validates a TOML catalog.
func Parse(data string) (*Catalog, error) {
	var c Catalog
	if _, err := toml.Decode(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) index() error {
	c.badges = make(map[string]domain.Badge)
	c.creds = make(map[string]domain.Credential)
	c.quests = make(map[string]domain.Quest)
	c.campaigns = make(map[string]domain.Campaign)
	c.byCredID = make(map[string]domain.Campaign)

	for _, b := range c.BadgeList {
		if b.ID == "" {
			return fmt.Errorf("badge with empty id")
		}
		if _, dup := c.badges[b.ID]; dup {
			return fmt.Errorf("duplicate badge %q", b.ID)
		}
		c.badges[b.ID] = b
	}
	for _, cr := range c.CredList {
		if cr.ID == "" {
			return fmt.Errorf("credential with empty id")
		}
		if _, dup := c.creds[cr.ID]; dup {
			return fmt.Errorf("duplicate credential %q", cr.ID)
		}
		c.creds[cr.ID] = cr
	}
	for _, q := range c.QuestList {
		switch {
		case q.ID == "":
			return fmt.Errorf("quest with empty id")
		case q.XPReward <= 0:
			return fmt.Errorf("quest %q: xp_reward must be positive", q.ID)
		case !q.Difficulty.Valid():
			return fmt.Errorf("quest %q: invalid difficulty %q", q.ID, q.Difficulty)
		}
		if _, dup := c.quests[q.ID]; dup {
			return fmt.Errorf("duplicate quest %q", q.ID)
		}
		c.quests[q.ID] = q
	}
	for _, cp := range c.CampaignSet {
		switch {
		case cp.ID == "":
			return fmt.Errorf("campaign with empty id")
		case cp.MaxClaims <= 0 || cp.TotalClaims < 0 || cp.TotalClaims > cp.MaxClaims:
			return fmt.Errorf("campaign %q: claims %d/%d out of range", cp.ID, cp.TotalClaims, cp.MaxClaims)
		}
		if _, ok := c.creds[cp.CredentialID]; !ok {
			return fmt.Errorf("campaign %q: unknown credential %q", cp.ID, cp.CredentialID)
		}
		if err := ValidateRule(cp.EligibilityRule); err != nil {
			return fmt.Errorf("campaign %q: %w", cp.ID, err)
		}
		if _, dup := c.campaigns[cp.ID]; dup {
			return fmt.Errorf("duplicate campaign %q", cp.ID)
		}
		c.campaigns[cp.ID] = cp
		c.byCredID[cp.CredentialID] = cp
	}
	for _, id := range c.Starter.Badges {
		if _, ok := c.badges[id]; !ok {
			return fmt.Errorf("starter badge %q not in catalog", id)
		}
	}
	for _, id := range c.Starter.Credentials {
		if _, ok := c.creds[id]; !ok {
			return fmt.Errorf("starter credential %q not in catalog", id)
		}
	}
	return nil
}

// ValidateRule checks an eligibility rule: "open", "quest:<id>" or "level:<n>".
func ValidateRule(rule string) error {
	if rule == "" || rule == "open" {
		return nil
	}
	kind, arg, ok := strings.Cut(rule, ":")
	if !ok || arg == "" {
		return fmt.Errorf("malformed eligibility rule %q", rule)
	}
	switch kind {
	case "quest":
		return nil
	case "level":
		if n, err := strconv.Atoi(arg); err != nil || n < 1 {
			return fmt.Errorf("bad level in eligibility rule %q", rule)
		}
		return nil
	}
	return fmt.Errorf("unknown eligibility rule %q", rule)
}

// ─── domain.ContentSource ───────────────────────────────────────────────────

// Quests returns every quest in catalog order.
func (c *Catalog) Quests() []domain.Quest {
	return append([]domain.Quest{}, c.QuestList...)
}

// Quest looks up a quest by id.
func (c *Catalog) Quest(id string) (domain.Quest, bool) {
	q, ok := c.quests[id]
	return q, ok
}

// Campaigns returns every campaign in catalog order.
func (c *Catalog) Campaigns() []domain.Campaign {
	return append([]domain.Campaign{}, c.CampaignSet...)
}

// Campaign looks up a campaign by id.
func (c *Catalog) Campaign(id string) (domain.Campaign, bool) {
	cp, ok := c.campaigns[id]
	return cp, ok
}

// CampaignForCredential returns the campaign offering credentialID.
func (c *Catalog) CampaignForCredential(credentialID string) (domain.Campaign, bool) {
	cp, ok := c.byCredID[credentialID]
	return cp, ok
}

// CredentialTemplate looks up a credential template by id.
func (c *Catalog) CredentialTemplate(id string) (domain.Credential, bool) {
	cr, ok := c.creds[id]
	return cr, ok
}

// BadgeTemplate resolves a badge logical id. Quest ids resolve to the
// quest's badge reward; anything else is looked up among standalone badges.
func (c *Catalog) BadgeTemplate(logicalID string) (domain.Badge, bool) {
	if q, ok := c.quests[logicalID]; ok {
		return q.BadgeReward, true
	}
	b, ok := c.badges[logicalID]
	return b, ok
}

// StarterHoldings returns the starter logical ids per token kind.
func (c *Catalog) StarterHoldings() map[domain.TokenKind][]string {
	return map[domain.TokenKind][]string{
		domain.KindBadge:      append([]string{}, c.Starter.Badges...),
		domain.KindCredential: append([]string{}, c.Starter.Credentials...),
	}
}
