package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/httpclient"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

const (
	azureTokenURL = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	azureUsersURL = "https://graph.microsoft.com/v1.0/users?$select=id,userPrincipalName,displayName,accountEnabled,lastSignInDateTime"
)

// AzureConnector pulls users from Microsoft Graph using the client-credentials
// flow. Missing credentials fall back to a simulated fixture.
type AzureConnector struct {
	base
	cfg    config.AzureConfig
	client *http.Client
}

type azureUser struct {
	ID                string   `json:"id"`
	UserPrincipalName string   `json:"userPrincipalName"`
	DisplayName       string   `json:"displayName"`
	AccountEnabled    *bool    `json:"accountEnabled"`
	AssignedRoles     []string `json:"assignedRoles"`
	MFARegistration   struct {
		IsMFARegistered bool `json:"isMfaRegistered"`
	} `json:"mfaRegistration"`
	LastSignInDateTime string   `json:"lastSignInDateTime"`
	MemberOf           []string `json:"memberOf"`
}

func NewAzureConnector(cfg config.AzureConfig, limiter core.RateLimiter, log *logger.Logger) *AzureConnector {
	return &AzureConnector{
		base:   newBase(string(types.SourceAzure), limiter, log),
		cfg:    cfg,
		client: httpclient.NewConnectorClient(),
	}
}

func (c *AzureConnector) Provider() string { return c.provider }

func (c *AzureConnector) Validate(ctx context.Context) error {
	if c.cfg.TenantID == "" || c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		return fmt.Errorf("azure connector missing tenant_id, client_id or client_secret, will serve simulated data")
	}
	return nil
}

func (c *AzureConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *AzureConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
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

func (c *AzureConnector) fetchUsers(ctx context.Context) ([]azureUser, error) {
	if c.cfg.TenantID == "" || c.cfg.ClientID == "" || c.cfg.ClientSecret == "" {
		c.log.Warnw("Azure credentials missing, falling back to simulation")
		return simulatedAzureUsers(), nil
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodGet, azureUsersURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build graph request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpclient.DoWithContext(ctx, c.client, req)
	if err != nil {
		return nil, fmt.Errorf("MS Graph API request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("MS Graph API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Value []azureUser `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode graph users: %w", err)
	}
	return payload.Value, nil
}

func (c *AzureConnector) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"scope":         {"https://graph.microsoft.com/.default"},
	}

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf(azureTokenURL, c.cfg.TenantID),
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := httpclient.DoWithContext(ctx, c.client, req)
	if err != nil {
		return "", fmt.Errorf("azure token request failed: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure token endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("azure token endpoint returned empty access_token")
	}
	return payload.AccessToken, nil
}

func (c *AzureConnector) normalize(u *azureUser) *types.UnifiedIdentity {
	score := 5.0
	if !u.MFARegistration.IsMFARegistered {
		score += 50
	}
	if hasRole(u.AssignedRoles, "Global Administrator") {
		score += 30
	}

	// accountEnabled is omitted for some principals; treat missing as enabled
	active := true
	if u.AccountEnabled != nil {
		active = *u.AccountEnabled
	}

	return &types.UnifiedIdentity{
		ID:              u.ID,
		Email:           u.UserPrincipalName,
		Source:          types.SourceAzure,
		Roles:           u.AssignedRoles,
		MFAEnabled:      u.MFARegistration.IsMFARegistered,
		LastLogin:       parseTimestamp(u.LastSignInDateTime),
		IsActive:        active,
		RiskScore:       clampScore(score),
		LinkedAccounts:  []string{},
		GroupMembership: u.MemberOf,
	}
}

func simulatedAzureUsers() []azureUser {
	enabled := true
	u := azureUser{
		ID:                 "azure-u1",
		UserPrincipalName:  "admin@company.onmicrosoft.com",
		DisplayName:        "Azure Admin",
		AccountEnabled:     &enabled,
		AssignedRoles:      []string{"Global Administrator", "Security Administrator"},
		LastSignInDateTime: "2026-02-20T11:00:00Z",
		MemberOf:           []string{"Tenant-Admins", "Compliance-Group"},
	}
	u.MFARegistration.IsMFARegistered = true
	return []azureUser{u}
}
