package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/httpclient"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// GitLabConnector pulls users from the GitLab REST API. Self-hosted instances
// often live on private networks, so the HTTP client allows internal
// addresses. A missing token falls back to a simulated fixture.
type GitLabConnector struct {
	base
	cfg    config.GitLabConfig
	client *http.Client
}

type gitlabUser struct {
	ID               int      `json:"id"`
	Username         string   `json:"username"`
	Email            string   `json:"email"`
	State            string   `json:"state"`
	IsAdmin          bool     `json:"is_admin"`
	LastSignInAt     string   `json:"last_sign_in_at"`
	TwoFactorEnabled bool     `json:"two_factor_enabled"`
	Groups           []string `json:"groups"`
}

func NewGitLabConnector(cfg config.GitLabConfig, limiter core.RateLimiter, log *logger.Logger) *GitLabConnector {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://gitlab.com"
	}
	return &GitLabConnector{
		base:   newBase(string(types.SourceGitLab), limiter, log),
		cfg:    cfg,
		client: httpclient.NewInternalClient(httpclient.DefaultConfig().Timeout),
	}
}

func (c *GitLabConnector) Provider() string { return c.provider }

func (c *GitLabConnector) Validate(ctx context.Context) error {
	if c.cfg.Token == "" {
		return fmt.Errorf("gitlab connector missing token, will serve simulated data")
	}
	return nil
}

func (c *GitLabConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *GitLabConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	users, err := c.fetchUsers(ctx)
	if err != nil {
		return nil, err
	}

	identities := make([]*types.UnifiedIdentity, 0, len(users))
	for i := range users {
		identities = append(identities, c.normalize(&users[i]))
	}
	return identities, nil
}

func (c *GitLabConnector) fetchUsers(ctx context.Context) ([]gitlabUser, error) {
	if c.cfg.Token == "" {
		c.log.Warnw("GitLab credentials missing token, falling back to simulation")
		return simulatedGitLabUsers(), nil
	}

	req, err := http.NewRequest(http.MethodGet, c.cfg.BaseURL+"/api/v4/users?per_page=100", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gitlab request: %w", err)
	}
	req.Header.Set("Private-Token", c.cfg.Token)

	resp, err := httpclient.DoWithContext(ctx, c.client, req)
	if err != nil {
		return nil, fmt.Errorf("gitlab API request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gitlab API returned status %d", resp.StatusCode)
	}

	var users []gitlabUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode gitlab users: %w", err)
	}
	return users, nil
}

func (c *GitLabConnector) normalize(u *gitlabUser) *types.UnifiedIdentity {
	score := 4.0
	if !u.TwoFactorEnabled {
		score += 50
	}
	if u.IsAdmin {
		score += 20
	}

	roles := []string{"Developer"}
	if u.IsAdmin {
		roles = []string{"Owner"}
	}

	return &types.UnifiedIdentity{
		ID:              strconv.Itoa(u.ID),
		Email:           u.Email,
		Source:          types.SourceGitLab,
		Roles:           roles,
		MFAEnabled:      u.TwoFactorEnabled,
		LastLogin:       parseTimestamp(u.LastSignInAt),
		IsActive:        u.State == "active",
		RiskScore:       clampScore(score),
		LinkedAccounts:  []string{},
		GroupMembership: u.Groups,
	}
}

func simulatedGitLabUsers() []gitlabUser {
	return []gitlabUser{
		{
			ID:               500,
			Username:         "gl-admin",
			Email:            "admin@company.com",
			State:            "active",
			IsAdmin:          true,
			LastSignInAt:     "2026-02-20T11:45:00Z",
			TwoFactorEnabled: true,
			Groups:           []string{"root-group", "security-team"},
		},
	}
}
