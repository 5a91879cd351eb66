package app

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/transfa/supporter-service/internal/domain"
	"github.com/transfa/supporter-service/internal/store"
)

// TierCount pairs a configured tier with its number of active subscribers.
type TierCount struct {
	domain.Tier
	Subscribers int `json:"subscribers"`
}

// DashboardRow is one active subscriber with its resolved tier details.
type DashboardRow struct {
	domain.Subscriber
	TierKnown     bool `json:"tier_known"`
	DailyMessages int  `json:"daily_messages"`
}

// Dashboard is the aggregated, render-ready view of the store.
type Dashboard struct {
	TotalActive int            `json:"total_active"`
	Tiers       []TierCount    `json:"tiers"`
	OtherCount  int            `json:"other"`
	Active      []DashboardRow `json:"active"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// BuildDashboard filters active subscribers, counts them per tier and sorts
// the listing by tier name. Subscribers whose tier is not in the table are
// counted under domain.OtherTier. Inactive records never appear.
func BuildDashboard(subscribers []domain.Subscriber, tiers *domain.TierTable, now time.Time) Dashboard {
	counts := make(map[string]int)
	rows := make([]DashboardRow, 0, len(subscribers))
	other := 0

	for _, sub := range subscribers {
		if !sub.Active {
			continue
		}
		row := DashboardRow{Subscriber: sub}
		if tier, ok := tiers.Lookup(sub.Tier); ok {
			row.TierKnown = true
			row.DailyMessages = tier.DailyMessages
			counts[tier.Name]++
		} else {
			other++
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Tier < rows[j].Tier
	})

	all := tiers.All()
	tierCounts := make([]TierCount, 0, len(all))
	for _, tier := range all {
		tierCounts = append(tierCounts, TierCount{Tier: tier, Subscribers: counts[tier.Name]})
	}

	return Dashboard{
		TotalActive: len(rows),
		Tiers:       tierCounts,
		OtherCount:  other,
		Active:      rows,
		GeneratedAt: now.UTC(),
	}
}

// DashboardService loads the store and aggregates it for display.
type DashboardService struct {
	repo   store.Repository
	tiers  *domain.TierTable
	logger *slog.Logger
	now    func() time.Time
}

// NewDashboardService creates a new dashboard service.
func NewDashboardService(repo store.Repository, tiers *domain.TierTable, logger *slog.Logger) *DashboardService {
	if tiers == nil {
		tiers = domain.DefaultTierTable()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{repo: repo, tiers: tiers, logger: logger, now: time.Now}
}

// Tiers returns the configured tier table.
func (s *DashboardService) Tiers() *domain.TierTable {
	return s.tiers
}

// Summary returns the current dashboard. A store read failure degrades to an
// empty listing rather than an error.
func (s *DashboardService) Summary(ctx context.Context) Dashboard {
	subscribers, err := s.repo.Load(ctx)
	if err != nil {
		s.logger.Error("failed to load subscribers for dashboard", "error", err)
		subscribers = nil
	}
	return BuildDashboard(subscribers, s.tiers, s.now())
}
