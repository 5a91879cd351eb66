package api

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/supporter-service/internal/app"
	"github.com/transfa/supporter-service/internal/domain"
)

//go:embed templates/dashboard.html
var templateFS embed.FS

var dashboardTemplate = template.Must(
	template.New("dashboard.html").Funcs(template.FuncMap{
		"formatTime":   formatTime,
		"formatAmount": formatAmount,
		"tierName":     tierName,
	}).ParseFS(templateFS, "templates/dashboard.html"),
)

// DashboardSource supplies the aggregated dashboard.
type DashboardSource interface {
	Summary(ctx context.Context) app.Dashboard
}

// DashboardHandler renders the read-only subscriber views.
type DashboardHandler struct {
	source DashboardSource
	logger *slog.Logger
}

// NewDashboardHandler creates a new dashboard handler.
func NewDashboardHandler(source DashboardSource, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{source: source, logger: logger}
}

// HandleHTML serves the HTML dashboard.
func (h *DashboardHandler) HandleHTML(w http.ResponseWriter, r *http.Request) {
	summary := h.source.Summary(r.Context())

	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, summary); err != nil {
		h.logger.Error("failed to render dashboard", "error", err)
		http.Error(w, "Failed to render dashboard", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// HandleSummary serves the dashboard aggregation as JSON.
func (h *DashboardHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	summary := h.source.Summary(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		h.logger.Error("failed to encode dashboard summary", "error", err)
	}
}

func formatTime(v interface{}) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return "N/A"
		}
		return t.UTC().Format("2006-01-02 15:04:05 UTC")
	case *time.Time:
		if t == nil || t.IsZero() {
			return "N/A"
		}
		return t.UTC().Format("2006-01-02 15:04:05 UTC")
	default:
		return "N/A"
	}
}

func formatAmount(amount, currency string) string {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return "N/A"
	}
	if currency = strings.TrimSpace(currency); currency != "" {
		return amount + " " + currency
	}
	return amount
}

func tierName(name string) string {
	if strings.TrimSpace(name) == "" {
		return domain.UnknownTier
	}
	return name
}
