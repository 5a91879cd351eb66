package domain

import (
	"errors"
	"fmt"
	"strings"
)

// OtherTier is the dashboard bucket for subscribers whose tier is not configured.
const OtherTier = "Other"

// Tier is a named pricing level.
type Tier struct {
	Name          string `json:"name" yaml:"name"`
	Price         string `json:"price" yaml:"price"`
	API           string `json:"api" yaml:"api"`
	DailyMessages int    `json:"daily_messages" yaml:"daily_messages"`
}

// TierTable is an ordered, read-only set of tiers.
type TierTable struct {
	tiers  []Tier
	byName map[string]Tier
}

// DefaultTiers is the built-in tier table.
var DefaultTiers = []Tier{
	{Name: "Basic", Price: "$10", API: "No API", DailyMessages: 0},
	{Name: "Plus", Price: "$20", API: "$5 API tier", DailyMessages: 50},
	{Name: "Platinum", Price: "$30", API: "$10 API tier", DailyMessages: 125},
	{Name: "Supporter", Price: "$50", API: "$20 API tier", DailyMessages: 300},
	{Name: "Supporter Ultimate", Price: "$100", API: "$40 API tier", DailyMessages: 700},
}

// NewTierTable builds a table, rejecting empty, reserved and duplicate names.
func NewTierTable(tiers []Tier) (*TierTable, error) {
	if len(tiers) == 0 {
		return nil, errors.New("tier table is empty")
	}
	t := &TierTable{byName: make(map[string]Tier, len(tiers))}
	for _, tier := range tiers {
		tier.Name = strings.TrimSpace(tier.Name)
		if tier.Name == "" {
			return nil, errors.New("tier name cannot be empty")
		}
		if tier.Name == OtherTier {
			return nil, fmt.Errorf("tier name %q is reserved", OtherTier)
		}
		if _, dup := t.byName[tier.Name]; dup {
			return nil, fmt.Errorf("duplicate tier %q", tier.Name)
		}
		t.byName[tier.Name] = tier
		t.tiers = append(t.tiers, tier)
	}
	return t, nil
}

// DefaultTierTable returns the built-in table.
func DefaultTierTable() *TierTable {
	t, _ := NewTierTable(DefaultTiers)
	return t
}

// Lookup returns the tier with the given name.
func (t *TierTable) Lookup(name string) (Tier, bool) {
	tier, ok := t.byName[name]
	return tier, ok
}

// All returns the tiers in configured order.
func (t *TierTable) All() []Tier {
	out := make([]Tier, len(t.tiers))
	copy(out, t.tiers)
	return out
}
