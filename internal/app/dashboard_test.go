package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/transfa/supporter-service/internal/domain"
)

func TestBuildDashboardListsOnlyActiveSubscribers(t *testing.T) {
	subs := []domain.Subscriber{
		{Email: "p1@x.com", Name: "P1", Tier: "Plus", Active: true},
		{Email: "gone@x.com", Name: "Gone", Tier: "Plus", Active: false},
		{Email: "b1@x.com", Name: "B1", Tier: "Basic", Active: true},
		{Email: "d1@x.com", Name: "D1", Tier: domain.UnknownTier, Active: true},
		{Email: "gone2@x.com", Name: "Gone2", Tier: "Basic", Active: false},
		{Email: "p2@x.com", Name: "P2", Tier: "Plus", Active: true},
	}

	d := BuildDashboard(subs, domain.DefaultTierTable(), fixedNow)

	if d.TotalActive != 4 || len(d.Active) != 4 {
		t.Fatalf("expected 4 active rows, got total=%d rows=%d", d.TotalActive, len(d.Active))
	}
	for _, row := range d.Active {
		if !row.Active {
			t.Fatalf("inactive subscriber %q leaked into the listing", row.Email)
		}
	}

	wantOrder := []string{"b1@x.com", "d1@x.com", "p1@x.com", "p2@x.com"}
	for i, email := range wantOrder {
		if d.Active[i].Email != email {
			t.Fatalf("row %d: expected %s, got %s", i, email, d.Active[i].Email)
		}
	}

	counts := map[string]int{}
	for _, tc := range d.Tiers {
		counts[tc.Name] = tc.Subscribers
	}
	if counts["Plus"] != 2 || counts["Basic"] != 1 || counts["Platinum"] != 0 {
		t.Fatalf("unexpected tier counts %v", counts)
	}
	if d.OtherCount != 1 {
		t.Fatalf("expected 1 subscriber in Other, got %d", d.OtherCount)
	}
	if len(d.Tiers) != len(domain.DefaultTiers) || d.Tiers[0].Name != "Basic" {
		t.Fatalf("expected tier table in configured order, got %+v", d.Tiers)
	}
}

func TestBuildDashboardResolvesTierDetails(t *testing.T) {
	subs := []domain.Subscriber{
		{Email: "a@x.com", Tier: "Platinum", Active: true},
		{Email: "b@x.com", Tier: "Gold", Active: true},
	}

	d := BuildDashboard(subs, domain.DefaultTierTable(), fixedNow)

	if len(d.Active) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(d.Active))
	}
	for _, row := range d.Active {
		switch row.Email {
		case "a@x.com":
			if !row.TierKnown || row.DailyMessages != 125 {
				t.Fatalf("expected Platinum with 125 messages, got %+v", row)
			}
		case "b@x.com":
			if row.TierKnown {
				t.Fatalf("expected Gold to be unknown, got %+v", row)
			}
		}
	}
}

func TestBuildDashboardEmptyStore(t *testing.T) {
	d := BuildDashboard(nil, domain.DefaultTierTable(), fixedNow)
	if d.TotalActive != 0 || len(d.Active) != 0 || d.OtherCount != 0 {
		t.Fatalf("expected empty dashboard, got %+v", d)
	}
	if !d.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("expected generated_at %v, got %v", fixedNow, d.GeneratedAt)
	}
}

type failingRepo struct{}

func (failingRepo) Load(ctx context.Context) ([]domain.Subscriber, error) {
	return nil, errors.New("db unavailable")
}

func (failingRepo) Save(ctx context.Context, subs []domain.Subscriber) error {
	return errors.New("db unavailable")
}

func TestDashboardServiceDegradesToEmptyListing(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewDashboardService(failingRepo{}, nil, logger)
	svc.now = func() time.Time { return fixedNow }

	d := svc.Summary(context.Background())
	if d.TotalActive != 0 || len(d.Active) != 0 {
		t.Fatalf("expected empty listing on store failure, got %+v", d)
	}
	if len(d.Tiers) != len(domain.DefaultTiers) {
		t.Fatalf("expected tier table to still render, got %d tiers", len(d.Tiers))
	}
}
