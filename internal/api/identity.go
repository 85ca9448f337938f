// Package api serves the identity risk intelligence endpoints over gin.
// Every analysis endpoint loads a fresh identity snapshot from the store and
// builds a request-scoped analyzer over it; nothing analytical is cached
// between requests.
package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/identity/analyzer"
	"github.com/beaconsec/identra/pkg/types"
)

// Snapshot and payload bounds.
const (
	snapshotLimit    = 1000
	graphLimit       = 100
	riskDataLimit    = 100
	syncHistoryLimit = 50
	defaultPageSize  = 20
	defaultTrendDays = 30
)

// Syncer triggers a full sweep across every registered provider.
type Syncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// IdentityHandlers holds the dependencies shared by the identity endpoints.
type IdentityHandlers struct {
	store     core.IdentityStore
	syncer    Syncer
	telemetry core.Telemetry
	log       *logger.Logger
}

// RegisterIdentityRoutes mounts the identity API on the given router group.
func RegisterIdentityRoutes(r gin.IRouter, store core.IdentityStore, syncer Syncer, telemetry core.Telemetry, log *logger.Logger) {
	h := &IdentityHandlers{
		store:     store,
		syncer:    syncer,
		telemetry: telemetry,
		log:       log.WithComponent("api"),
	}

	r.GET("/health", h.Health)
	r.POST("/sync", h.TriggerSync)
	r.GET("/summary", h.Summary)
	r.GET("/identities", h.ListIdentities)
	r.GET("/identities/:id", h.IdentityDetail)
	r.GET("/identities/:id/compliance", h.IdentityCompliance)
	r.GET("/compliance", h.GlobalCompliance)
	r.GET("/remediations", h.Remediations)
	r.GET("/graph", h.Graph)
	r.GET("/attack-path-graph/:id", h.AttackPathGraph)
	r.GET("/risk-profile/:id", h.RiskProfile)
	r.GET("/risk-data-all", h.RiskDataAll)
	r.GET("/risk-trend", h.RiskTrend)
	r.GET("/dashboard-aggregation", h.DashboardAggregation)
	r.GET("/providers/:provider/status", h.ProviderStatus)
}

// snapshot loads up to limit identities. Store failures degrade to an empty
// snapshot so dashboards render zeros instead of erroring wholesale.
func (h *IdentityHandlers) snapshot(ctx context.Context, limit int) []*types.UnifiedIdentity {
	identities, _, err := h.store.ListIdentities(ctx, core.IdentityFilter{Limit: limit})
	if err != nil {
		h.log.Warnw("Identity snapshot unavailable, serving empty results", "error", err)
		return nil
	}
	return identities
}

// audit records an API action; failures are logged, never surfaced.
func (h *IdentityHandlers) audit(ctx context.Context, action string, c *gin.Context, metadata map[string]string) {
	if err := h.store.SaveAuditEvent(ctx, action, c.ClientIP(), metadata); err != nil {
		h.log.Warnw("Failed to write audit event", "action", action, "error", err)
	}
}

func (h *IdentityHandlers) recordAnalysis(operation string, start time.Time) {
	h.telemetry.RecordAnalysis(operation, time.Since(start).Seconds())
}

// Health reports liveness and whether the store answers queries.
func (h *IdentityHandlers) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	_, _, err := h.store.ListIdentities(ctx, core.IdentityFilter{Limit: 1})

	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"db_available": err == nil,
	})
}

// TriggerSync runs a full sweep across every registered provider and reports
// the total number of identities synced.
func (h *IdentityHandlers) TriggerSync(c *gin.Context) {
	ctx := c.Request.Context()
	h.audit(ctx, "force_sync", c, nil)

	total, err := h.syncer.SyncAll(ctx)
	if err != nil {
		h.log.Errorw("Force sync failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sync failed: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "success",
		"message":      "Synced " + strconv.Itoa(total) + " identities from all active providers.",
		"total_synced": total,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

// Summary serves the dashboard headline report.
func (h *IdentityHandlers) Summary(c *gin.Context) {
	defer h.recordAnalysis("summary", time.Now())
	ctx := c.Request.Context()
	h.audit(ctx, "fetch_summary", c, nil)

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	c.JSON(http.StatusOK, a.Summary())
}

// ListIdentities serves the paginated, filterable identity listing with
// derived graph fields populated on the returned page.
func (h *IdentityHandlers) ListIdentities(c *gin.Context) {
	ctx := c.Request.Context()
	h.audit(ctx, "fetch_identities", c, nil)

	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	limit := queryInt(c, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}

	filter := core.IdentityFilter{
		Search:    c.Query("search"),
		Source:    c.Query("source"),
		RiskLevel: c.Query("risk_level"),
		SortBy:    c.Query("sort_by"),
		SortDesc:  c.DefaultQuery("sort_order", "desc") == "desc",
		Limit:     limit,
		Offset:    (page - 1) * limit,
	}

	items, total, err := h.store.ListIdentities(ctx, filter)
	if err != nil {
		h.log.Warnw("Identity listing unavailable, serving empty page", "error", err)
		items, total = nil, 0
	}

	// Populate privilege tier, exposure, and blast radius on the page.
	a := analyzer.New(items)
	items = a.Identities()

	if items == nil {
		items = []*types.UnifiedIdentity{}
	}
	c.JSON(http.StatusOK, gin.H{
		"items": items,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// IdentityDetail serves the single-identity drill-down.
func (h *IdentityHandlers) IdentityDetail(c *gin.Context) {
	defer h.recordAnalysis("identity_detail", time.Now())
	ctx := c.Request.Context()
	identityID := c.Param("id")
	h.audit(ctx, "fetch_identity_detail", c, map[string]string{"identity_id": identityID})

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	detail, err := a.Detail(identityID)
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// IdentityCompliance evaluates one identity against the policy catalogue.
func (h *IdentityHandlers) IdentityCompliance(c *gin.Context) {
	defer h.recordAnalysis("identity_compliance", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	result, err := a.ComplianceForIdentity(c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GlobalCompliance serves the organization-wide compliance report.
func (h *IdentityHandlers) GlobalCompliance(c *gin.Context) {
	defer h.recordAnalysis("global_compliance", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	c.JSON(http.StatusOK, a.GlobalCompliance())
}

// Remediations serves the organization-wide remediation report.
func (h *IdentityHandlers) Remediations(c *gin.Context) {
	defer h.recordAnalysis("remediations", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	c.JSON(http.StatusOK, a.Remediations())
}

// Graph serves the full relationship graph for visualization.
func (h *IdentityHandlers) Graph(c *gin.Context) {
	defer h.recordAnalysis("graph", time.Now())
	ctx := c.Request.Context()
	h.audit(ctx, "fetch_graph", c, nil)

	a := analyzer.New(h.snapshot(ctx, graphLimit))
	c.JSON(http.StatusOK, a.Graph())
}

// AttackPathGraph serves the local subgraph around one identity.
func (h *IdentityHandlers) AttackPathGraph(c *gin.Context) {
	defer h.recordAnalysis("attack_path_graph", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	export, err := a.AttackPathGraph(c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, export)
}

// RiskProfile serves the flat risk profile extended with graph context.
func (h *IdentityHandlers) RiskProfile(c *gin.Context) {
	defer h.recordAnalysis("risk_profile", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	report, err := a.RiskProfile(c.Param("id"))
	if err != nil {
		h.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// riskDataRow flattens an identity for external risk tooling, with demo
// records resolved to the provider they simulate.
type riskDataRow struct {
	*types.UnifiedIdentity
	Source string `json:"source"`
}

// RiskDataAll serves the full enriched identity list as a bare array.
func (h *IdentityHandlers) RiskDataAll(c *gin.Context) {
	defer h.recordAnalysis("risk_data_all", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, riskDataLimit))
	items := a.Identities()

	rows := make([]riskDataRow, 0, len(items))
	for _, id := range items {
		rows = append(rows, riskDataRow{UnifiedIdentity: id, Source: id.EffectiveSource()})
	}
	c.JSON(http.StatusOK, rows)
}

// ProviderStatus reports connection state and headline counts for one
// provider, demo records included.
func (h *IdentityHandlers) ProviderStatus(c *gin.Context) {
	ctx := c.Request.Context()
	provider := c.Param("provider")

	identities, _, err := h.store.ListIdentities(ctx, core.IdentityFilter{Limit: snapshotLimit})
	if err != nil {
		h.log.Warnw("Provider status unavailable", "provider", provider, "error", err)
		c.JSON(http.StatusOK, gin.H{"connected": false, "status": "disconnected"})
		return
	}

	var matched []*types.UnifiedIdentity
	for _, id := range identities {
		if id.EffectiveSource() == provider {
			matched = append(matched, id)
		}
	}
	if len(matched) == 0 {
		c.JSON(http.StatusOK, gin.H{"connected": false, "status": "disconnected"})
		return
	}

	var users, serviceAccounts, privileged int
	for _, id := range matched {
		if strings.Contains(id.Email, "@") {
			users++
		}
		lower := strings.ToLower(id.ID)
		if strings.Contains(lower, "role") || strings.Contains(lower, "serviceaccount") {
			serviceAccounts++
		}
		if id.PrivilegeTier == types.TierHigh || id.PrivilegeTier == types.TierCritical {
			privileged++
		}
	}

	lastSync := time.Now().UTC()
	if records, err := h.store.ListSyncRecords(ctx, nil, syncHistoryLimit); err == nil {
		for _, rec := range records {
			if rec.Provider == provider {
				lastSync = rec.Timestamp
				break
			}
		}
	}

	status := "demo"
	if provider == "github" || provider == "gcp" {
		status = "connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":           true,
		"status":              status,
		"project_id":          provider + "-demo-env",
		"total_users":         users,
		"service_accounts":    serviceAccounts,
		"privileged_accounts": privileged,
		"last_sync":           lastSync.Format(time.RFC3339),
	})
}

// RiskTrend serves historical risk-trend points from sync history, falling
// back to a single current-state point computed from the live snapshot.
func (h *IdentityHandlers) RiskTrend(c *gin.Context) {
	defer h.recordAnalysis("risk_trend", time.Now())
	ctx := c.Request.Context()

	days := queryInt(c, "days", defaultTrendDays)
	if days < 1 {
		days = defaultTrendDays
	}
	h.audit(ctx, "fetch_risk_trend", c, map[string]string{"days": strconv.Itoa(days)})

	since := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	records, err := h.store.ListSyncRecords(ctx, &since, 500)
	if err != nil {
		h.log.Warnw("Sync history unavailable", "error", err)
		records = nil
	}

	trend := make([]types.TrendPoint, 0, len(records))
	for _, rec := range records {
		trend = append(trend, types.TrendPoint{
			Date:  rec.Timestamp.Format("2006-01-02"),
			Score: round1(rec.AvgRisk),
			// MFA coverage is not tracked per sync record.
			MFACoverage:     100.0,
			CriticalCount:   rec.PrivilegedCount,
			TotalIdentities: rec.TotalSynced,
			Provider:        rec.Provider,
		})
	}

	if len(trend) == 0 {
		if identities := h.snapshot(ctx, snapshotLimit); len(identities) > 0 {
			trend = append(trend, analyzer.New(identities).CurrentTrendPoint())
		}
	}

	c.JSON(http.StatusOK, gin.H{"trend": trend, "days": days})
}

// DashboardAggregation serves the chart payload for the dashboard with recent
// sync history attached.
func (h *IdentityHandlers) DashboardAggregation(c *gin.Context) {
	defer h.recordAnalysis("dashboard_aggregation", time.Now())
	ctx := c.Request.Context()

	a := analyzer.New(h.snapshot(ctx, snapshotLimit))
	agg := a.DashboardAggregation()

	history, err := h.store.ListSyncRecords(ctx, nil, syncHistoryLimit)
	if err != nil {
		h.log.Warnw("Sync history unavailable for aggregation", "error", err)
	} else {
		agg.SyncHistory = history
	}

	c.JSON(http.StatusOK, agg)
}

func (h *IdentityHandlers) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, analyzer.ErrIdentityNotFound) || errors.Is(err, core.ErrIdentityNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Identity not found"})
		return
	}
	h.log.Errorw("Request failed", "path", c.Request.URL.Path, "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
