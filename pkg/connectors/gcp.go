package connectors

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/api/cloudresourcemanager/v1"
	iamadmin "google.golang.org/api/iam/v1"
	"google.golang.org/api/option"

	"github.com/beaconsec/identra/internal/config"
	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/internal/logger"
	"github.com/beaconsec/identra/pkg/types"
)

// gcpPrivilegedRoles mark bindings that push an identity into the high tier.
var gcpPrivilegedRoles = []string{
	"roles/owner",
	"roles/editor",
	"roles/iam.securityAdmin",
	"roles/resourcemanager.projectIamAdmin",
}

// GCPConnector reads the project IAM policy and folds the role bindings into
// one identity per user or service account. Service accounts with active
// user-managed keys are scored as standing credential exposure. There is no
// simulation fixture: without a project and credentials file the sync yields
// nothing.
type GCPConnector struct {
	base
	cfg config.GCPConfig
}

type gcpPrincipal struct {
	Email          string
	Roles          []string
	ServiceAccount bool
	HasActiveKeys  bool
}

func NewGCPConnector(cfg config.GCPConfig, limiter core.RateLimiter, log *logger.Logger) *GCPConnector {
	return &GCPConnector{
		base: newBase(string(types.SourceGCP), limiter, log),
		cfg:  cfg,
	}
}

func (c *GCPConnector) Provider() string { return c.provider }

func (c *GCPConnector) Validate(ctx context.Context) error {
	if c.cfg.ProjectID == "" || c.cfg.CredentialsFile == "" {
		return fmt.Errorf("gcp connector missing project_id or credentials_file")
	}
	return nil
}

func (c *GCPConnector) Sync(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	return c.syncWithRetry(ctx, c.fetch)
}

func (c *GCPConnector) fetch(ctx context.Context) ([]*types.UnifiedIdentity, error) {
	if c.cfg.ProjectID == "" || c.cfg.CredentialsFile == "" {
		c.log.Warnw("GCP sync skipped, project_id or credentials_file missing")
		return []*types.UnifiedIdentity{}, nil
	}

	principals, err := c.fetchPrincipals(ctx)
	if err != nil {
		return nil, err
	}

	identities := make([]*types.UnifiedIdentity, 0, len(principals))
	for i := range principals {
		identities = append(identities, c.normalize(&principals[i]))
	}
	return identities, nil
}

func (c *GCPConnector) fetchPrincipals(ctx context.Context) ([]gcpPrincipal, error) {
	crm, err := cloudresourcemanager.NewService(ctx, option.WithCredentialsFile(c.cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource manager client: %w", err)
	}

	policy, err := crm.Projects.GetIamPolicy(c.cfg.ProjectID, &cloudresourcemanager.GetIamPolicyRequest{}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch IAM policy for %s: %w", c.cfg.ProjectID, err)
	}

	activeKeys := c.fetchActiveKeyStatus(ctx)

	byEmail := make(map[string]*gcpPrincipal)
	for _, binding := range policy.Bindings {
		for _, member := range binding.Members {
			var email string
			var sa bool
			switch {
			case strings.HasPrefix(member, "user:"):
				email = strings.TrimPrefix(member, "user:")
			case strings.HasPrefix(member, "serviceAccount:"):
				email = strings.TrimPrefix(member, "serviceAccount:")
				sa = true
			default:
				continue
			}

			p, ok := byEmail[email]
			if !ok {
				p = &gcpPrincipal{
					Email:          email,
					ServiceAccount: sa,
					HasActiveKeys:  activeKeys[email],
				}
				byEmail[email] = p
			}
			p.Roles = append(p.Roles, binding.Role)
		}
	}

	principals := make([]gcpPrincipal, 0, len(byEmail))
	for _, p := range byEmail {
		principals = append(principals, *p)
	}
	sort.Slice(principals, func(i, j int) bool { return principals[i].Email < principals[j].Email })
	return principals, nil
}

// fetchActiveKeyStatus maps service account emails to whether they hold an
// enabled user-managed key. Failures degrade to no key findings.
func (c *GCPConnector) fetchActiveKeyStatus(ctx context.Context) map[string]bool {
	status := make(map[string]bool)

	svc, err := iamadmin.NewService(ctx, option.WithCredentialsFile(c.cfg.CredentialsFile))
	if err != nil {
		c.log.Warnw("Failed to create IAM admin client for SA key scan", "error", err)
		return status
	}

	accounts, err := svc.Projects.ServiceAccounts.List("projects/" + c.cfg.ProjectID).Context(ctx).Do()
	if err != nil {
		c.log.Warnw("Failed to list service accounts for SA key scan", "error", err)
		return status
	}

	for _, sa := range accounts.Accounts {
		keys, err := svc.Projects.ServiceAccounts.Keys.
			List("projects/" + c.cfg.ProjectID + "/serviceAccounts/" + sa.Email).
			KeyTypes("USER_MANAGED").
			Context(ctx).Do()
		if err != nil {
			c.log.Warnw("Failed to list keys for service account", "service_account", sa.Email, "error", err)
			continue
		}
		for _, key := range keys.Keys {
			if !key.Disabled {
				status[sa.Email] = true
				break
			}
		}
	}
	return status
}

func (c *GCPConnector) normalize(p *gcpPrincipal) *types.UnifiedIdentity {
	lower := make(map[string]bool, len(p.Roles))
	for _, r := range p.Roles {
		lower[strings.ToLower(r)] = true
	}

	score := 10.0
	highRisk := false
	switch {
	case lower["roles/owner"]:
		score += 80
		highRisk = true
	case lower["roles/editor"]:
		score += 60
		highRisk = true
	case lower["roles/iam.securityadmin"] || lower["roles/resourcemanager.projectiamadmin"]:
		score += 50
		highRisk = true
	}
	if p.ServiceAccount && p.HasActiveKeys {
		score += 40
		highRisk = true
	}
	score = clampScore(score)

	privileged := false
	for _, r := range gcpPrivilegedRoles {
		if hasRole(p.Roles, r) {
			privileged = true
			break
		}
	}

	tier := types.TierLow
	switch {
	case lower["roles/owner"]:
		tier = types.TierCritical
	case highRisk || privileged:
		tier = types.TierHigh
	case len(p.Roles) > 2:
		tier = types.TierMedium
	}

	// Workspace-level MFA enforcement is assumed for GCP principals.
	now := time.Now().UTC()
	return &types.UnifiedIdentity{
		ID:              "gcp-" + p.Email,
		Email:           p.Email,
		Source:          types.SourceGCP,
		Roles:           p.Roles,
		MFAEnabled:      true,
		LastLogin:       &now,
		IsActive:        true,
		RiskScore:       score,
		LinkedAccounts:  []string{},
		GroupMembership: []string{},
		PrivilegeTier:   tier,
		ExposureLevel:   score * 0.7,
		CloudAccounts:   []string{c.cfg.ProjectID},
	}
}
