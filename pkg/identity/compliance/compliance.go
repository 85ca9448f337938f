// Package compliance evaluates unified identities against the organizational
// policy catalogue: least privilege, zero trust, MFA enforcement, dormant
// account lifecycle, and separation of duties. Each policy carries a weight;
// a violated policy costs its full weight once regardless of how many of its
// checks fired, and 100 minus the violated share yields the compliance score.
package compliance

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/beaconsec/identra/pkg/types"
)

// Policy keys. These are stable API identifiers, not display names.
const (
	PolicyLeastPrivilege     = "least_privilege"
	PolicyZeroTrust          = "zero_trust"
	PolicyMFAEnforcement     = "mfa_enforcement"
	PolicyDormantAccount     = "dormant_account"
	PolicySeparationOfDuties = "separation_of_duties"
)

// PolicyDef describes one policy in the catalogue.
type PolicyDef struct {
	Name        string
	Description string
	Category    string
	Weight      int
}

// Policies is the catalogue. Weights sum to 100.
var Policies = map[string]PolicyDef{
	PolicyLeastPrivilege: {
		Name:        "Least Privilege",
		Description: "Users should only have the minimum permissions required",
		Category:    "Access Control",
		Weight:      25,
	},
	PolicyZeroTrust: {
		Name:        "Zero Trust Verification",
		Description: "All access must be verified regardless of network location",
		Category:    "Zero Trust",
		Weight:      20,
	},
	PolicyMFAEnforcement: {
		Name:        "MFA Enforcement",
		Description: "All accounts must have multi-factor authentication enabled",
		Category:    "Authentication",
		Weight:      25,
	},
	PolicyDormantAccount: {
		Name:        "Dormant Account Policy",
		Description: "Accounts inactive for >30 days must be reviewed or disabled",
		Category:    "Account Lifecycle",
		Weight:      15,
	},
	PolicySeparationOfDuties: {
		Name:        "Separation of Duties",
		Description: "Critical functions must be divided among different people",
		Category:    "Governance",
		Weight:      15,
	},
}

// adminKeywords are matched as substrings against lowercased role names when
// identifying privileged roles for the least-privilege and zero-trust checks.
var adminKeywords = []string{"admin", "owner", "superadmin", "root", "globaladmin"}

// toxicPair is one separation-of-duties conflict: holding a role from each
// side at once is a violation.
type toxicPair struct {
	a, b []string
}

var toxicCombinations = []toxicPair{
	{a: []string{"admin", "superadmin", "owner", "globaladmin", "root"}, b: []string{"billing", "finance", "payment"}},
	{a: []string{"admin", "superadmin", "owner"}, b: []string{"auditor", "compliance", "security"}},
	{a: []string{"developer", "engineer"}, b: []string{"deployer", "release", "production"}},
	{a: []string{"dbadmin", "dba"}, b: []string{"developer", "engineer"}},
}

// Engine checks a snapshot of identities against the policy catalogue.
type Engine struct {
	identities []*types.UnifiedIdentity
	now        time.Time
}

// NewEngine builds an engine over the snapshot with the clock captured now.
func NewEngine(identities []*types.UnifiedIdentity) *Engine {
	return NewEngineAt(identities, time.Now().UTC())
}

// NewEngineAt is NewEngine with an explicit evaluation instant.
func NewEngineAt(identities []*types.UnifiedIdentity, now time.Time) *Engine {
	return &Engine{identities: identities, now: now}
}

func matchesAny(role string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(role, kw) {
			return true
		}
	}
	return false
}

// CheckIdentity evaluates one identity against all five policies and returns
// its violations, passed policies, and weighted compliance score.
func (e *Engine) CheckIdentity(identity *types.UnifiedIdentity) types.ComplianceResult {
	var violations []types.Violation
	var passed []string

	rolesLower := make([]string, len(identity.Roles))
	for i, r := range identity.Roles {
		rolesLower[i] = strings.ToLower(r)
	}
	// Distinct admin role names: the same role granted twice is one grant.
	adminRoles := make(map[string]struct{})
	for _, r := range rolesLower {
		if matchesAny(r, adminKeywords) {
			adminRoles[r] = struct{}{}
		}
	}
	adminRoleCount := len(adminRoles)

	// Least privilege: too many roles overall, too many admin roles, or an
	// unprotected admin account.
	switch {
	case len(identity.Roles) > 8 || adminRoleCount > 2:
		violations = append(violations, types.Violation{
			Policy:   PolicyLeastPrivilege,
			Severity: types.SeverityHigh,
			Message: fmt.Sprintf("User has %d roles including %d admin roles — exceeds least privilege threshold",
				len(identity.Roles), adminRoleCount),
			Remediation: "Audit and remove unnecessary roles. Limit admin privileges to specific scopes.",
		})
	case adminRoleCount > 0 && !identity.MFAEnabled:
		violations = append(violations, types.Violation{
			Policy:      PolicyLeastPrivilege,
			Severity:    types.SeverityCritical,
			Message:     "Admin account without MFA violates least privilege + authentication policy",
			Remediation: "Immediately enable MFA and reduce privilege scope.",
		})
	default:
		passed = append(passed, PolicyLeastPrivilege)
	}

	// Zero trust: an email present on more than one cloud IAM provider must
	// carry MFA, and cross-cloud admin access needs step-up verification.
	crossCloud := e.isCrossCloud(identity)
	switch {
	case crossCloud && !identity.MFAEnabled:
		violations = append(violations, types.Violation{
			Policy:      PolicyZeroTrust,
			Severity:    types.SeverityCritical,
			Message:     "Cross-cloud identity without MFA violates Zero Trust policy",
			Remediation: "Enable MFA on all linked cloud accounts and implement conditional access policies.",
		})
	case crossCloud && adminRoleCount > 0:
		violations = append(violations, types.Violation{
			Policy:      PolicyZeroTrust,
			Severity:    types.SeverityHigh,
			Message:     "Cross-cloud admin access increases attack surface — requires enhanced verification",
			Remediation: "Implement step-up authentication for cross-cloud admin operations.",
		})
	default:
		passed = append(passed, PolicyZeroTrust)
	}

	// MFA enforcement.
	if !identity.MFAEnabled {
		severity := types.SeverityHigh
		if adminRoleCount > 0 {
			severity = types.SeverityCritical
		}
		violations = append(violations, types.Violation{
			Policy:      PolicyMFAEnforcement,
			Severity:    severity,
			Message:     fmt.Sprintf("MFA not enabled on %s account", strings.ToUpper(string(identity.Source))),
			Remediation: "Enable MFA immediately. Use hardware keys for admin accounts, authenticator apps for standard users.",
		})
	} else {
		passed = append(passed, PolicyMFAEnforcement)
	}

	// Dormant account lifecycle.
	switch {
	case identity.LastLogin != nil:
		daysInactive := int(e.now.Sub(identity.LastLogin.UTC()).Hours() / 24)
		switch {
		case daysInactive > 90:
			violations = append(violations, types.Violation{
				Policy:      PolicyDormantAccount,
				Severity:    types.SeverityHigh,
				Message:     fmt.Sprintf("Account inactive for %d days — exceeds 90-day dormancy policy", daysInactive),
				Remediation: "Disable the account and reassign any active responsibilities.",
			})
		case daysInactive > 30:
			violations = append(violations, types.Violation{
				Policy:      PolicyDormantAccount,
				Severity:    types.SeverityMedium,
				Message:     fmt.Sprintf("Account inactive for %d days — approaching dormancy threshold", daysInactive),
				Remediation: "Review account necessity. Contact user to verify continued access requirement.",
			})
		default:
			passed = append(passed, PolicyDormantAccount)
		}
	case !identity.IsActive:
		violations = append(violations, types.Violation{
			Policy:      PolicyDormantAccount,
			Severity:    types.SeverityMedium,
			Message:     "Inactive account with no recorded last login",
			Remediation: "Verify account status and disable if no longer needed.",
		})
	default:
		passed = append(passed, PolicyDormantAccount)
	}

	// Separation of duties: one violation per identity even if several pairs
	// conflict.
	sodViolated := false
	for _, pair := range toxicCombinations {
		hasA, hasB := false, false
		for _, r := range rolesLower {
			if matchesAny(r, pair.a) {
				hasA = true
			}
			if matchesAny(r, pair.b) {
				hasB = true
			}
		}
		if hasA && hasB {
			violations = append(violations, types.Violation{
				Policy:      PolicySeparationOfDuties,
				Severity:    types.SeverityHigh,
				Message:     "Toxic role combination detected: Multiple conflicting privileges assigned to same identity",
				Remediation: "Separate conflicting roles into different accounts or request formal exception with compensating controls.",
			})
			sodViolated = true
			break
		}
	}
	if !sodViolated {
		passed = append(passed, PolicySeparationOfDuties)
	}

	totalWeight := 0
	for _, p := range Policies {
		totalWeight += p.Weight
	}
	violatedPolicies := make(map[string]bool)
	for _, v := range violations {
		violatedPolicies[v.Policy] = true
	}
	violatedWeight := 0
	for p := range violatedPolicies {
		violatedWeight += Policies[p].Weight
	}
	score := int(math.Round((1 - float64(violatedWeight)/float64(totalWeight)) * 100))
	if score < 0 {
		score = 0
	}

	if violations == nil {
		violations = []types.Violation{}
	}
	if passed == nil {
		passed = []string{}
	}

	return types.ComplianceResult{
		IdentityID:      identity.ID,
		Email:           identity.Email,
		ComplianceScore: score,
		Violations:      violations,
		PassedPolicies:  passed,
		TotalChecks:     len(Policies),
		ViolationsCount: len(violations),
	}
}

// isCrossCloud reports whether the identity's email appears on more than one
// cloud IAM record across the snapshot.
func (e *Engine) isCrossCloud(identity *types.UnifiedIdentity) bool {
	if identity.Email == "" {
		return false
	}
	email := strings.ToLower(identity.Email)
	count := 0
	for _, other := range e.identities {
		if other.Email == "" || strings.ToLower(other.Email) != email {
			continue
		}
		if types.CloudSources[other.EffectiveSource()] {
			count++
			if count > 1 {
				return true
			}
		}
	}
	return false
}

const topViolationsLimit = 20

// GlobalReport evaluates the whole snapshot and rolls the results up:
// per-policy statistics, severity breakdown, per-category scores, and the top
// violations ordered by severity.
func (e *Engine) GlobalReport() types.ComplianceReport {
	results := make([]types.ComplianceResult, 0, len(e.identities))
	for _, id := range e.identities {
		results = append(results, e.CheckIdentity(id))
	}

	var allViolations []types.Violation
	severityCounts := map[types.Severity]int{
		types.SeverityCritical: 0,
		types.SeverityHigh:     0,
		types.SeverityMedium:   0,
		types.SeverityLow:      0,
	}
	policyViolations := make(map[string]int)
	policyAffected := make(map[string]map[string]bool)

	for _, result := range results {
		for _, v := range result.Violations {
			v.IdentityID = result.IdentityID
			v.Email = result.Email
			allViolations = append(allViolations, v)
			policyViolations[v.Policy]++
			severityCounts[v.Severity]++
			if policyAffected[v.Policy] == nil {
				policyAffected[v.Policy] = make(map[string]bool)
			}
			policyAffected[v.Policy][result.IdentityID] = true
		}
	}

	policyStats := make(map[string]types.PolicyStats, len(Policies))
	categoryScores := make(map[string][]float64)
	for key, def := range Policies {
		affected := len(policyAffected[key])
		policyStats[key] = types.PolicyStats{
			Name:               def.Name,
			Category:           def.Category,
			Description:        def.Description,
			Violations:         policyViolations[key],
			IdentitiesAffected: affected,
		}

		n := len(e.identities)
		if n == 0 {
			n = 1
		}
		catScore := 100 - float64(affected)/float64(n)*100
		if catScore < 0 {
			catScore = 0
		}
		categoryScores[def.Category] = append(categoryScores[def.Category], catScore)
	}

	categoryAverages := make(map[string]int, len(categoryScores))
	for cat, scores := range categoryScores {
		sum := 0.0
		for _, s := range scores {
			sum += s
		}
		categoryAverages[cat] = int(math.Round(sum / float64(len(scores))))
	}

	globalScore := 0
	if len(results) > 0 {
		sum := 0
		for _, r := range results {
			sum += r.ComplianceScore
		}
		globalScore = int(math.Round(float64(sum) / float64(len(results))))
	}

	top := make([]types.Violation, len(allViolations))
	copy(top, allViolations)
	sort.SliceStable(top, func(i, j int) bool {
		return types.SeverityRank(top[i].Severity) < types.SeverityRank(top[j].Severity)
	})
	if len(top) > topViolationsLimit {
		top = top[:topViolationsLimit]
	}

	return types.ComplianceReport{
		ComplianceScore:   globalScore,
		TotalIdentities:   len(e.identities),
		TotalViolations:   len(allViolations),
		SeverityBreakdown: severityCounts,
		PolicyStats:       policyStats,
		CategoryScores:    categoryAverages,
		TopViolations:     top,
		IdentityResults:   results,
	}
}
