package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/httpclient"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

const githubAPIBase = "https://api.github.com"

// GitHubConnector enumerates organization members and enriches each with its
// org membership role. Unlike the cloud connectors there is no simulation
// fixture: without a token the sync yields nothing, and when the org listing
// is forbidden it degrades to the authenticated user's own profile.
type GitHubConnector struct {
	base
	cfg    config.GitHubConfig
	client *http.Client
}

type githubMember struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	SiteAdmin bool   `json:"site_admin"`
	Suspended bool   `json:"suspended"`
	TwoFactor *bool  `json:"two_factor_authentication"`

	// Filled from the membership endpoint, not part of the member payload.
	OrgRole string `json:"-"`
}

func NewGitHubConnector(cfg config.GitHubConfig, limiter core.RateLimiter, log *logger.Logger) *GitHubConnector {
	return &GitHubConnector{
		base:   newBase(string(types.SourceGitHub), limiter, log),
		cfg:    cfg,
		client: httpclient.NewConnectorClient(),
	}
}

func (c *GitHubConnector) Provider() string { return c.provider }

func (c *GitHubConnector) Validate(ctx context.Context) error {
	if c.cfg.Token == "" {
		return fmt.Errorf("github connector missing token")
	}
	if c.cfg.Org == "" {
		return fmt.Errorf("github connector missing org")
	}
	return nil
}

func (c *GitHubConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *GitHubConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	if c.cfg.Token == "" {
		c.log.Warnw("GitHub sync skipped, no token provided")
		return []*types.UnifiedIdentity{}, nil
	}

	members, err := c.fetchMembers(ctx)
	if err != nil {
		return nil, err
	}

	identities := make([]*types.UnifiedIdentity, 0, len(members))
	for i := range members {
		identities = append(identities, c.normalize(&members[i]))
	}
	return identities, nil
}

func (c *GitHubConnector) fetchMembers(ctx context.Context) ([]githubMember, error) {
	var members []githubMember
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/orgs/%s/members?per_page=100", githubAPIBase, c.cfg.Org), &members)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		c.log.Warnw("Could not fetch org members, falling back to authenticated user",
			"org", c.cfg.Org, "status", status)

		var me githubMember
		status, err = c.getJSON(ctx, githubAPIBase+"/user", &me)
		if err != nil {
			return nil, err
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("github API returned status %d for authenticated user", status)
		}
		me.OrgRole = "member"
		return []githubMember{me}, nil
	}

	for i := range members {
		members[i].OrgRole = c.fetchOrgRole(ctx, members[i].Login)
	}
	return members, nil
}

// fetchOrgRole resolves one member's org role, defaulting to "member" when
// the membership endpoint is unavailable.
func (c *GitHubConnector) fetchOrgRole(ctx context.Context, login string) string {
	var membership struct {
		Role string `json:"role"`
	}
	status, err := c.getJSON(ctx, fmt.Sprintf("%s/orgs/%s/memberships/%s", githubAPIBase, c.cfg.Org, login), &membership)
	if err != nil || status != http.StatusOK || membership.Role == "" {
		return "member"
	}
	return membership.Role
}

func (c *GitHubConnector) getJSON(ctx context.Context, url string, out interface{}) (int, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build github request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := httpclient.DoWithContext(ctx, c.client, req)
	if err != nil {
		return 0, fmt.Errorf("github API request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode github response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *GitHubConnector) normalize(m *githubMember) *types.UnifiedIdentity {
	isAdmin := m.OrgRole == "admin" || m.SiteAdmin

	var roles []string
	if m.OrgRole == "admin" {
		roles = append(roles, "Org Admin")
	}
	if m.SiteAdmin {
		roles = append(roles, "Site Admin")
	}
	if len(roles) == 0 {
		roles = append(roles, "Member")
	}

	score := 15.0
	if isAdmin {
		score += 35
	}

	// The two_factor_authentication field is only visible to org admins,
	// so absence is treated as enabled rather than as a finding.
	mfa := true
	if m.TwoFactor != nil {
		mfa = *m.TwoFactor
	}
	if !mfa {
		score += 40
	}
	score = clampScore(score)

	tier := types.TierLow
	if isAdmin {
		tier = types.TierHigh
	} else if len(roles) > 1 {
		tier = types.TierMedium
	}

	email := m.Email
	if email == "" {
		email = m.Login + "@users.noreply.github.com"
	}

	now := time.Now().UTC()
	return &types.UnifiedIdentity{
		ID:              "github-" + strconv.FormatInt(m.ID, 10),
		Email:           email,
		Source:          types.SourceGitHub,
		Roles:           roles,
		MFAEnabled:      mfa,
		LastLogin:       &now,
		IsActive:        !m.Suspended,
		RiskScore:       score,
		LinkedAccounts:  []string{},
		GroupMembership: []string{},
		PrivilegeTier:   tier,
		ExposureLevel:   score * 0.6,
		CloudAccounts:   []string{"github"},
	}
}
