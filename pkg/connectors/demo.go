package connectors

import (
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/twmb/murmur3"

	"github.com/beaconsec/identra/pkg/types"
)

// DemoProviders are the providers that get simulated identities when they are
// not actually connected, so the dashboard never renders empty.
var DemoProviders = []string{
	string(types.SourceAWS),
	string(types.SourceAzure),
	string(types.SourceGitLab),
	string(types.SourceOkta),
}

// GenerateDemoIdentities produces the demo records for one base email at one
// simulated provider. The variance is seeded from a murmur3 hash of the
// email, so repeated syncs regenerate the same records and upsert cleanly.
func GenerateDemoIdentities(email, provider string) []*types.UnifiedIdentity {
	rng := rand.New(rand.NewSource(int64(murmur3.StringSum64(email))))
	slug := strings.ReplaceAll(email, "@", "-")
	domain := "be4breach.com"
	if at := strings.IndexByte(email, '@'); at >= 0 {
		domain = email[at+1:]
	}
	now := time.Now().UTC()

	var identities []*types.UnifiedIdentity

	switch provider {
	case string(types.SourceAWS):
		login := now.Add(-time.Duration(randBetween(rng, 1, 48)) * time.Hour)
		identities = append(identities, &types.UnifiedIdentity{
			ID:             "aws-" + slug,
			Email:          email,
			Source:         types.SourceDemo,
			Provider:       string(types.SourceAWS),
			Roles:          []string{"AdministratorAccess", "Billing", "IAMFullAccess", "SecurityAudit"},
			MFAEnabled:     true,
			LastLogin:      &login,
			IsActive:       true,
			RiskScore:      randScore(rng, 5, 15),
			PrivilegeTier:  types.TierCritical,
			ExposureLevel:  5,
			CloudAccounts:  []string{"aws-prod-0123456789"},
			LinkedAccounts: []string{},
		})

		// Half the base identities also own a stale security role account
		if rng.Float64() > 0.5 {
			roleLogin := now.Add(-time.Duration(randBetween(rng, 2, 10)) * 24 * time.Hour)
			identities = append(identities, &types.UnifiedIdentity{
				ID:             "aws-role-sec-" + slug,
				Email:          "security-role@" + domain,
				Source:         types.SourceDemo,
				Provider:       string(types.SourceAWS),
				Roles:          []string{"ReadOnlyAccess", "SecurityAudit"},
				MFAEnabled:     false,
				LastLogin:      &roleLogin,
				IsActive:       true,
				RiskScore:      randScore(rng, 40, 75),
				PrivilegeTier:  types.TierHigh,
				ExposureLevel:  30,
				CloudAccounts:  []string{"aws-prod-0123456789"},
				LinkedAccounts: []string{},
			})
		}

	case string(types.SourceAzure):
		login := now.Add(-time.Duration(randBetween(rng, 10, 1000)) * time.Minute)
		identities = append(identities, &types.UnifiedIdentity{
			ID:             "azure-" + slug,
			Email:          email,
			Source:         types.SourceDemo,
			Provider:       string(types.SourceAzure),
			Roles:          []string{"Global Administrator", "Application Developer", "User Access Administrator"},
			MFAEnabled:     true,
			LastLogin:      &login,
			IsActive:       true,
			RiskScore:      randScore(rng, 2, 10),
			PrivilegeTier:  types.TierCritical,
			ExposureLevel:  2,
			CloudAccounts:  []string{"azure-tenant-be4breach"},
			LinkedAccounts: []string{},
		})

	case string(types.SourceGitLab):
		login := now.Add(-time.Duration(randBetween(rng, 2, 48)) * time.Hour)
		identities = append(identities, &types.UnifiedIdentity{
			ID:       "gitlab-" + slug,
			Email:    email,
			Source:   types.SourceDemo,
			Provider: string(types.SourceGitLab),
			Roles:    []string{"Owner", "Maintainer"},
			// One in three demo maintainers lacks MFA
			MFAEnabled:      rng.Intn(3) < 2,
			LastLogin:       &login,
			IsActive:        true,
			RiskScore:       randScore(rng, 10, 35),
			PrivilegeTier:   types.TierHigh,
			ExposureLevel:   15,
			GroupMembership: []string{"Engineering", "Security Ops", "DevOps"},
			LinkedAccounts:  []string{},
		})

	case string(types.SourceOkta):
		login := now.Add(-time.Duration(randBetween(rng, 5, 120)) * time.Minute)
		identities = append(identities, &types.UnifiedIdentity{
			ID:              "okta-" + slug,
			Email:           email,
			Source:          types.SourceDemo,
			Provider:        string(types.SourceOkta),
			Roles:           []string{"Super Admin", "Everything Admin", "Report Administrator"},
			MFAEnabled:      true,
			LastLogin:       &login,
			IsActive:        true,
			RiskScore:       randScore(rng, 1, 10),
			PrivilegeTier:   types.TierCritical,
			ExposureLevel:   1,
			GroupMembership: []string{"Admins", "Engineering Managers", "IT Infrastructure"},
			// The IdP record links to the demo accounts generated for the
			// same email, so graph edges resolve to real node ids.
			LinkedAccounts: []string{"aws-" + slug, "azure-" + slug, "gitlab-" + slug},
		})
	}

	return identities
}

// randBetween mirrors an inclusive integer range draw.
func randBetween(rng *rand.Rand, low, high int) int {
	return low + rng.Intn(high-low+1)
}

// randScore draws a score uniformly from [low, high] rounded to one decimal.
func randScore(rng *rand.Rand, low, high float64) float64 {
	return math.Round((low+rng.Float64()*(high-low))*10) / 10
}
