package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// HRConnector reads the HR roster feed, a flat JSON or YAML export from the
// HR system. HR records anchor orphan detection: a provider identity whose
// email has no active HR record is a leaver's account that was never
// deprovisioned.
type HRConnector struct {
	base
	cfg config.HRConfig
}

type hrRecord struct {
	EmployeeID   string `json:"employeeId" yaml:"employeeId"`
	Email        string `json:"email" yaml:"email"`
	Department   string `json:"department" yaml:"department"`
	Title        string `json:"title" yaml:"title"`
	ManagerEmail string `json:"managerEmail" yaml:"managerEmail"`
	Active       bool   `json:"active" yaml:"active"`
	StartDate    string `json:"startDate" yaml:"startDate"`
	EndDate      string `json:"endDate" yaml:"endDate"`
}

func NewHRConnector(cfg config.HRConfig, limiter core.RateLimiter, log *logger.Logger) *HRConnector {
	return &HRConnector{
		base: newBase(string(types.SourceHR), limiter, log),
		cfg:  cfg,
	}
}

func (c *HRConnector) Provider() string { return c.provider }

func (c *HRConnector) Validate(ctx context.Context) error {
	if c.cfg.FeedPath == "" {
		return fmt.Errorf("hr connector missing feed_path")
	}
	if _, err := os.Stat(c.cfg.FeedPath); err != nil {
		return fmt.Errorf("hr feed not readable: %w", err)
	}
	return nil
}

func (c *HRConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *HRConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	if c.cfg.FeedPath == "" {
		c.log.Warnw("HR sync skipped, no feed_path configured")
		return []*types.UnifiedIdentity{}, nil
	}

	data, err := os.ReadFile(c.cfg.FeedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read hr feed %s: %w", c.cfg.FeedPath, err)
	}

	var records []hrRecord
	switch strings.ToLower(filepath.Ext(c.cfg.FeedPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse hr feed: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, fmt.Errorf("failed to parse hr feed: %w", err)
		}
	}

	identities := make([]*types.UnifiedIdentity, 0, len(records))
	for i := range records {
		identities = append(identities, c.normalize(&records[i]))
	}
	return identities, nil
}

func (c *HRConnector) normalize(r *hrRecord) *types.UnifiedIdentity {
	var roles []string
	if r.Title != "" {
		roles = append(roles, r.Title)
	}
	var groups []string
	if r.Department != "" {
		groups = append(groups, r.Department)
	}

	// HR rows are ground truth about the person, not an attack surface of
	// their own, so they carry a floor score.
	var linked []string
	if r.ManagerEmail != "" {
		linked = append(linked, "hr-"+r.ManagerEmail)
	}

	return &types.UnifiedIdentity{
		ID:              "hr-" + r.EmployeeID,
		Email:           r.Email,
		Source:          types.SourceHR,
		Roles:           roles,
		MFAEnabled:      true,
		LastLogin:       parseTimestamp(r.StartDate),
		IsActive:        r.Active,
		RiskScore:       5,
		LinkedAccounts:  linked,
		GroupMembership: groups,
	}
}
