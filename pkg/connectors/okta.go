package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/httpclient"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// OktaConnector pulls users from the Okta admin API. Without a domain and API
// token it serves a simulated fixture so the rest of the pipeline stays
// exercisable.
type OktaConnector struct {
	base
	domain string
	token  string
	client *http.Client
}

type oktaUser struct {
	ID      string `json:"id"`
	Profile struct {
		Email string `json:"email"`
		Login string `json:"login"`
	} `json:"profile"`
	Status        string   `json:"status"`
	LastLogin     string   `json:"lastLogin"`
	MFARegistered bool     `json:"mfa_registered"`
	AssignedRoles []string `json:"assigned_roles"`
	Groups        []string `json:"groups"`
}

func NewOktaConnector(cfg config.OktaConfig, limiter core.RateLimiter, log *logger.Logger) *OktaConnector {
	return &OktaConnector{
		base:   newBase(string(types.SourceOkta), limiter, log),
		domain: cfg.Domain,
		token:  cfg.APIToken,
		client: httpclient.NewConnectorClient(),
	}
}

func (c *OktaConnector) Provider() string { return c.provider }

func (c *OktaConnector) Validate(ctx context.Context) error {
	if c.domain == "" || c.token == "" {
		return fmt.Errorf("okta connector missing domain or api_token, will serve simulated data")
	}
	return nil
}

func (c *OktaConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *OktaConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
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

func (c *OktaConnector) fetchUsers(ctx context.Context) ([]oktaUser, error) {
	if c.domain == "" || c.token == "" {
		c.log.Warnw("Okta credentials missing domain or api_token, falling back to simulation")
		return simulatedOktaUsers(), nil
	}

	domain := c.domain
	if !strings.HasPrefix(domain, "http") {
		domain = "https://" + domain
	}

	req, err := http.NewRequest(http.MethodGet, domain+"/api/v1/users?limit=50", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build okta request: %w", err)
	}
	req.Header.Set("Authorization", "SSWS "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := httpclient.DoWithContext(ctx, c.client, req)
	if err != nil {
		return nil, fmt.Errorf("okta API request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("okta API returned status %d", resp.StatusCode)
	}

	var users []oktaUser
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("failed to decode okta users: %w", err)
	}
	return users, nil
}

func (c *OktaConnector) normalize(u *oktaUser) *types.UnifiedIdentity {
	score := 10.0
	if !u.MFARegistered {
		score += 70
	}
	if hasRole(u.AssignedRoles, "Super Admin") {
		score += 20
	}

	return &types.UnifiedIdentity{
		ID:              u.ID,
		Email:           u.Profile.Email,
		Source:          types.SourceOkta,
		Roles:           u.AssignedRoles,
		MFAEnabled:      u.MFARegistered,
		LastLogin:       parseTimestamp(u.LastLogin),
		IsActive:        u.Status == "ACTIVE",
		RiskScore:       clampScore(score),
		LinkedAccounts:  []string{},
		GroupMembership: u.Groups,
	}
}

func simulatedOktaUsers() []oktaUser {
	u := oktaUser{
		ID:            "okta-u1",
		Status:        "ACTIVE",
		LastLogin:     "2026-02-20T10:00:00Z",
		MFARegistered: true,
		AssignedRoles: []string{"Super Admin", "App Admin"},
		Groups:        []string{"Admins", "IT-Support", "Global-Access"},
	}
	u.Profile.Email = "admin@company.com"
	u.Profile.Login = "admin@company.com"
	return []oktaUser{u}
}
