package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/pkg/types"
)

func TestOktaSimulationFallback(t *testing.T) {
	c := NewOktaConnector(config.OktaConfig{}, nil, testLogger(t))
	c.initialBackoff = 0

	require.Error(t, c.Validate(context.Background()))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)

	got := identities[0]
	assert.Equal(t, "okta-u1", got.ID)
	assert.Equal(t, "admin@company.com", got.Email)
	assert.Equal(t, types.SourceOkta, got.Source)
	assert.True(t, got.MFAEnabled)
	assert.True(t, got.IsActive)
	// base 10 + 20 for Super Admin, MFA registered
	assert.Equal(t, 30.0, got.RiskScore)
	assert.Equal(t, []string{"Admins", "IT-Support", "Global-Access"}, got.GroupMembership)
}

func TestOktaNormalizeNoMFA(t *testing.T) {
	c := NewOktaConnector(config.OktaConfig{}, nil, testLogger(t))

	u := &oktaUser{ID: "okta-u2", Status: "SUSPENDED", AssignedRoles: []string{"Super Admin"}}
	u.Profile.Email = "risky@company.com"

	got := c.normalize(u)
	assert.Equal(t, 100.0, got.RiskScore)
	assert.False(t, got.IsActive)
}

func TestOktaFetchFromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SSWS test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/users", r.URL.Path)

		users := simulatedOktaUsers()
		users[0].ID = "okta-live-1"
		require.NoError(t, json.NewEncoder(w).Encode(users))
	}))
	defer srv.Close()

	c := NewOktaConnector(config.OktaConfig{Domain: srv.URL, APIToken: "test-token"}, nil, testLogger(t))
	c.client = srv.Client()

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, "okta-live-1", identities[0].ID)
}

func TestAWSSimulationFallback(t *testing.T) {
	c := NewAWSConnector(config.AWSConfig{Region: "us-east-1"}, nil, testLogger(t))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)

	got := identities[0]
	assert.Equal(t, "aws-u1", got.ID)
	// IAM usernames get a synthetic email domain
	assert.Equal(t, "cloud-admin@company.aws", got.Email)
	// base 5 + 20 AdministratorAccess
	assert.Equal(t, 25.0, got.RiskScore)
	assert.True(t, got.MFAEnabled)
}

func TestAWSNormalizeKeepsRealEmail(t *testing.T) {
	c := NewAWSConnector(config.AWSConfig{}, nil, testLogger(t))

	got := c.normalize(&awsUser{UserName: "ops@company.com", UserID: "aws-u9", Active: true})
	assert.Equal(t, "ops@company.com", got.Email)
	// base 5 + 40 no MFA
	assert.Equal(t, 45.0, got.RiskScore)
}

func TestAzureSimulationFallback(t *testing.T) {
	c := NewAzureConnector(config.AzureConfig{}, nil, testLogger(t))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)

	got := identities[0]
	assert.Equal(t, "azure-u1", got.ID)
	assert.Equal(t, "admin@company.onmicrosoft.com", got.Email)
	// base 5 + 30 Global Administrator
	assert.Equal(t, 35.0, got.RiskScore)
	assert.Equal(t, []string{"Tenant-Admins", "Compliance-Group"}, got.GroupMembership)
}

func TestAzureNormalizeMissingAccountEnabled(t *testing.T) {
	c := NewAzureConnector(config.AzureConfig{}, nil, testLogger(t))

	got := c.normalize(&azureUser{ID: "azure-u2", UserPrincipalName: "svc@company.onmicrosoft.com"})
	assert.True(t, got.IsActive)
	// base 5 + 50 no MFA registration
	assert.Equal(t, 55.0, got.RiskScore)
}

func TestGitLabSimulationFallback(t *testing.T) {
	c := NewGitLabConnector(config.GitLabConfig{}, nil, testLogger(t))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)

	got := identities[0]
	assert.Equal(t, "500", got.ID)
	assert.Equal(t, []string{"Owner"}, got.Roles)
	// base 4 + 20 admin
	assert.Equal(t, 24.0, got.RiskScore)
}

func TestGitLabFetchFromAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("Private-Token"))
		require.NoError(t, json.NewEncoder(w).Encode([]gitlabUser{
			{ID: 7, Email: "dev@company.com", State: "active", TwoFactorEnabled: false},
		}))
	}))
	defer srv.Close()

	c := NewGitLabConnector(config.GitLabConfig{BaseURL: srv.URL, Token: "secret"}, nil, testLogger(t))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)
	assert.Equal(t, []string{"Developer"}, identities[0].Roles)
	// base 4 + 50 no 2FA
	assert.Equal(t, 54.0, identities[0].RiskScore)
}

func TestGitHubSyncWithoutTokenYieldsNothing(t *testing.T) {
	c := NewGitHubConnector(config.GitHubConfig{Org: "beaconsec"}, nil, testLogger(t))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, identities)
}

func TestGitHubNormalize(t *testing.T) {
	c := NewGitHubConnector(config.GitHubConfig{Org: "beaconsec"}, nil, testLogger(t))

	noMFA := false
	tests := []struct {
		name      string
		member    githubMember
		wantRoles []string
		wantScore float64
		wantTier  types.PrivilegeTier
	}{
		{
			name:      "org admin",
			member:    githubMember{ID: 1, Login: "boss", OrgRole: "admin"},
			wantRoles: []string{"Org Admin"},
			wantScore: 50,
			wantTier:  types.TierHigh,
		},
		{
			name:      "site admin without mfa",
			member:    githubMember{ID: 2, Login: "root", SiteAdmin: true, TwoFactor: &noMFA},
			wantRoles: []string{"Site Admin"},
			wantScore: 90,
			wantTier:  types.TierHigh,
		},
		{
			name:      "plain member",
			member:    githubMember{ID: 3, Login: "dev", OrgRole: "member"},
			wantRoles: []string{"Member"},
			wantScore: 15,
			wantTier:  types.TierLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.normalize(&tt.member)
			assert.Equal(t, tt.wantRoles, got.Roles)
			assert.Equal(t, tt.wantScore, got.RiskScore)
			assert.Equal(t, tt.wantTier, got.PrivilegeTier)
			assert.Equal(t, tt.wantScore*0.6, got.ExposureLevel)
			assert.Equal(t, []string{"github"}, got.CloudAccounts)
		})
	}
}

func TestGitHubNormalizeEmailFallback(t *testing.T) {
	c := NewGitHubConnector(config.GitHubConfig{Org: "beaconsec"}, nil, testLogger(t))

	got := c.normalize(&githubMember{ID: 42, Login: "ghost"})
	assert.Equal(t, "github-42", got.ID)
	assert.Equal(t, "ghost@users.noreply.github.com", got.Email)
}

func TestGCPSyncWithoutCredentialsYieldsNothing(t *testing.T) {
	c := NewGCPConnector(config.GCPConfig{}, nil, testLogger(t))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	assert.Empty(t, identities)
}

func TestGCPNormalize(t *testing.T) {
	c := NewGCPConnector(config.GCPConfig{ProjectID: "acme-prod"}, nil, testLogger(t))

	tests := []struct {
		name      string
		principal gcpPrincipal
		wantScore float64
		wantTier  types.PrivilegeTier
	}{
		{
			name:      "project owner",
			principal: gcpPrincipal{Email: "owner@acme.com", Roles: []string{"roles/owner"}},
			wantScore: 90,
			wantTier:  types.TierCritical,
		},
		{
			name:      "editor",
			principal: gcpPrincipal{Email: "dev@acme.com", Roles: []string{"roles/editor"}},
			wantScore: 70,
			wantTier:  types.TierHigh,
		},
		{
			name: "service account with active keys",
			principal: gcpPrincipal{
				Email:          "ci@acme-prod.iam.gserviceaccount.com",
				Roles:          []string{"roles/storage.objectViewer"},
				ServiceAccount: true,
				HasActiveKeys:  true,
			},
			wantScore: 50,
			wantTier:  types.TierHigh,
		},
		{
			name:      "viewer",
			principal: gcpPrincipal{Email: "intern@acme.com", Roles: []string{"roles/viewer"}},
			wantScore: 10,
			wantTier:  types.TierLow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.normalize(&tt.principal)
			assert.Equal(t, "gcp-"+tt.principal.Email, got.ID)
			assert.Equal(t, tt.wantScore, got.RiskScore)
			assert.Equal(t, tt.wantTier, got.PrivilegeTier)
			assert.True(t, got.MFAEnabled)
			assert.Equal(t, []string{"acme-prod"}, got.CloudAccounts)
		})
	}
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o600)
}

func TestHRConnectorReadsFeed(t *testing.T) {
	feed := t.TempDir() + "/roster.json"
	records := []hrRecord{
		{EmployeeID: "e100", Email: "alice@acme.com", Department: "Engineering", Title: "Staff Engineer", Active: true, StartDate: "2024-03-01"},
		{EmployeeID: "e101", Email: "bob@acme.com", Department: "Finance", Title: "Analyst", Active: false, EndDate: "2026-01-31"},
	}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, writeFile(feed, data))

	c := NewHRConnector(config.HRConfig{FeedPath: feed}, nil, testLogger(t))
	require.NoError(t, c.Validate(context.Background()))

	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 2)

	assert.Equal(t, "hr-e100", identities[0].ID)
	assert.Equal(t, []string{"Staff Engineer"}, identities[0].Roles)
	assert.Equal(t, []string{"Engineering"}, identities[0].GroupMembership)
	assert.True(t, identities[0].IsActive)
	assert.False(t, identities[1].IsActive)
}

func TestHRConnectorReadsYAMLFeed(t *testing.T) {
	feed := t.TempDir() + "/roster.yaml"
	roster := `
- employeeId: e200
  email: carol@acme.com
  department: Security
  title: Security Engineer
  managerEmail: dave@acme.com
  active: true
  startDate: "2023-07-15"
`
	require.NoError(t, writeFile(feed, []byte(roster)))

	c := NewHRConnector(config.HRConfig{FeedPath: feed}, nil, testLogger(t))
	identities, err := c.Sync(context.Background())
	require.NoError(t, err)
	require.Len(t, identities, 1)

	assert.Equal(t, "hr-e200", identities[0].ID)
	assert.Equal(t, "carol@acme.com", identities[0].Email)
	assert.Equal(t, []string{"hr-dave@acme.com"}, identities[0].LinkedAccounts)
	require.NotNil(t, identities[0].LastLogin)
	assert.Equal(t, 2023, identities[0].LastLogin.Year())
}
