// Package remediation turns identity risk findings into prioritized,
// templated fix actions. Each trigger rule maps a condition on the identity
// (or its cross-provider siblings) to an action template carrying a category,
// an auto-remediation flag, and an estimated risk reduction.
package remediation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beaconsec/identra/pkg/types"
)

// Action type keys. Stable API identifiers.
const (
	ActionEnableMFA          = "enable_mfa"
	ActionRemoveUnusedRoles  = "remove_unused_roles"
	ActionDisableDormant     = "disable_dormant"
	ActionReducePrivilege    = "reduce_privilege"
	ActionSeparateToxic      = "separate_toxic"
	ActionRotateCredentials  = "rotate_credentials"
	ActionLinkIdentity       = "link_identity"
	ActionRestrictCrossCloud = "restrict_cross_cloud"
)

// Template is the static part of a remediation action.
type Template struct {
	Title                   string
	Description             string
	Category                string
	AutoRemediationPossible bool
	EstimatedRiskReduction  int
}

// Templates is the action catalogue.
var Templates = map[string]Template{
	ActionEnableMFA: {
		Title:                   "Enable Multi-Factor Authentication",
		Description:             "Enable MFA on all accounts to prevent credential-based attacks",
		Category:                "Authentication",
		AutoRemediationPossible: true,
		EstimatedRiskReduction:  25,
	},
	ActionRemoveUnusedRoles: {
		Title:                   "Remove Unused / Excessive Roles",
		Description:             "Remove roles that exceed operational requirements",
		Category:                "Access Control",
		AutoRemediationPossible: true,
		EstimatedRiskReduction:  15,
	},
	ActionDisableDormant: {
		Title:                   "Disable Dormant Account",
		Description:             "Disable accounts inactive for extended periods",
		Category:                "Account Lifecycle",
		AutoRemediationPossible: true,
		EstimatedRiskReduction:  20,
	},
	ActionReducePrivilege: {
		Title:                   "Reduce Privilege Scope",
		Description:             "Downgrade admin privileges to least-privilege roles",
		Category:                "Privilege Management",
		AutoRemediationPossible: false,
		EstimatedRiskReduction:  20,
	},
	ActionSeparateToxic: {
		Title:                   "Separate Toxic Role Combinations",
		Description:             "Split conflicting duties into separate accounts",
		Category:                "Governance",
		AutoRemediationPossible: false,
		EstimatedRiskReduction:  15,
	},
	ActionRotateCredentials: {
		Title:                   "Rotate Stale Credentials",
		Description:             "Force credential rotation for accounts with aged credentials",
		Category:                "Credential Management",
		AutoRemediationPossible: true,
		EstimatedRiskReduction:  10,
	},
	ActionLinkIdentity: {
		Title:                   "Link Orphaned SaaS Identity",
		Description:             "Link unlinked SaaS identity to cloud IAM provider",
		Category:                "Identity Governance",
		AutoRemediationPossible: false,
		EstimatedRiskReduction:  10,
	},
	ActionRestrictCrossCloud: {
		Title:                   "Restrict Cross-Cloud Admin Access",
		Description:             "Apply conditional access policies for cross-cloud admin operations",
		Category:                "Zero Trust",
		AutoRemediationPossible: false,
		EstimatedRiskReduction:  15,
	},
}

var adminKeywords = []string{"admin", "owner", "superadmin", "root", "globaladmin"}

type toxicPair struct {
	a, b []string
}

var toxicRoleSets = []toxicPair{
	{a: []string{"admin", "superadmin", "owner", "globaladmin", "root"}, b: []string{"billing", "finance", "payment"}},
	{a: []string{"admin", "superadmin", "owner"}, b: []string{"auditor", "compliance", "security"}},
	{a: []string{"developer", "engineer"}, b: []string{"deployer", "release", "production"}},
	{a: []string{"dbadmin", "dba"}, b: []string{"developer", "engineer"}},
}

// essentialRoleCount is how many of an identity's roles are assumed
// legitimate when flagging the rest for review.
const essentialRoleCount = 5

// excessiveRoleThreshold triggers the role-removal action.
const excessiveRoleThreshold = 8

// Engine generates remediation actions over a snapshot.
type Engine struct {
	identities []*types.UnifiedIdentity
	now        time.Time
}

// NewEngine builds an engine with the clock captured now.
func NewEngine(identities []*types.UnifiedIdentity) *Engine {
	return NewEngineAt(identities, time.Now().UTC())
}

// NewEngineAt is NewEngine with an explicit evaluation instant.
func NewEngineAt(identities []*types.UnifiedIdentity, now time.Time) *Engine {
	return &Engine{identities: identities, now: now}
}

// priority maps a risk score to an action priority. Admin accounts escalate
// to critical at a lower score.
func priority(riskScore float64, isAdmin bool) types.Priority {
	switch {
	case riskScore >= 80 || (isAdmin && riskScore >= 50):
		return types.PriorityCritical
	case riskScore >= 60:
		return types.PriorityHigh
	case riskScore >= 30:
		return types.PriorityMedium
	default:
		return types.PriorityLow
	}
}

func matchesAny(role string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(role, kw) {
			return true
		}
	}
	return false
}

func isAdminRoles(rolesLower []string) bool {
	for _, r := range rolesLower {
		if matchesAny(r, adminKeywords) {
			return true
		}
	}
	return false
}

// action instantiates a template for one identity.
func action(actionType string, identity *types.UnifiedIdentity, prio types.Priority, details string) types.RemediationAction {
	tmpl := Templates[actionType]
	return types.RemediationAction{
		Type:                    actionType,
		Title:                   tmpl.Title,
		Description:             tmpl.Description,
		Category:                tmpl.Category,
		AutoRemediationPossible: tmpl.AutoRemediationPossible,
		EstimatedRiskReduction:  tmpl.EstimatedRiskReduction,
		IdentityID:              identity.ID,
		Email:                   identity.Email,
		Provider:                identity.EffectiveSource(),
		Priority:                prio,
		Details:                 details,
	}
}

// GenerateForIdentity evaluates every trigger rule for one identity and
// returns its actions sorted by priority, critical first.
func (e *Engine) GenerateForIdentity(identity *types.UnifiedIdentity) []types.RemediationAction {
	var actions []types.RemediationAction

	rolesLower := make([]string, len(identity.Roles))
	for i, r := range identity.Roles {
		rolesLower[i] = strings.ToLower(r)
	}
	isAdmin := isAdminRoles(rolesLower)
	provider := identity.EffectiveSource()

	if !identity.MFAEnabled {
		prio := types.PriorityHigh
		if isAdmin {
			prio = types.PriorityCritical
		}
		actions = append(actions, action(ActionEnableMFA, identity, prio,
			fmt.Sprintf("Enable MFA on %s account for %s", strings.ToUpper(provider), identity.Email)))
	}

	if len(identity.Roles) > excessiveRoleThreshold {
		excess := identity.Roles[essentialRoleCount:]
		preview := excess
		if len(preview) > 5 {
			preview = preview[:5]
		}
		a := action(ActionRemoveUnusedRoles, identity, priority(identity.RiskScore, isAdmin),
			fmt.Sprintf("Review and remove %d potentially excessive roles: %s",
				len(excess), strings.Join(preview, ", ")))
		a.RolesToReview = excess
		actions = append(actions, a)
	}

	if identity.LastLogin != nil {
		daysInactive := int(e.now.Sub(identity.LastLogin.UTC()).Hours() / 24)
		if daysInactive > 90 {
			prio := types.PriorityMedium
			if isAdmin {
				prio = types.PriorityHigh
			}
			a := action(ActionDisableDormant, identity, prio,
				fmt.Sprintf("Account inactive for %d days. Disable or verify with user.", daysInactive))
			a.DaysInactive = daysInactive
			actions = append(actions, a)
		}
	}

	if isAdmin && len(identity.Roles) > 3 {
		actions = append(actions, action(ActionReducePrivilege, identity, priority(identity.RiskScore, true),
			fmt.Sprintf("Admin account has %d roles. Evaluate if full admin is required.", len(identity.Roles))))
	}

	for _, pair := range toxicRoleSets {
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
			actions = append(actions, action(ActionSeparateToxic, identity, types.PriorityHigh,
				"Toxic combination detected: Conflict found between administrative and sensitive business functions."))
			break
		}
	}

	siblings := e.siblings(identity)

	isOkta := identity.Source == types.SourceOkta ||
		(identity.Source == types.SourceDemo && identity.Provider == "okta")
	if isOkta {
		hasCloud := false
		for _, s := range siblings {
			if types.CloudSources[s.EffectiveSource()] {
				hasCloud = true
				break
			}
		}
		if !hasCloud {
			actions = append(actions, action(ActionLinkIdentity, identity, types.PriorityMedium,
				fmt.Sprintf("Okta identity %s not linked to any cloud IAM provider.", identity.Email)))
		}
	}

	cloudAdminCount := 0
	for _, s := range siblings {
		if types.CloudSources[s.EffectiveSource()] && isAdminRoles(lowerAll(s.Roles)) {
			cloudAdminCount++
		}
	}
	if cloudAdminCount > 1 {
		actions = append(actions, action(ActionRestrictCrossCloud, identity, types.PriorityHigh,
			fmt.Sprintf("Admin access across %d cloud providers. Apply conditional access.", cloudAdminCount)))
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return types.PriorityRank(actions[i].Priority) < types.PriorityRank(actions[j].Priority)
	})
	return actions
}

// siblings returns every snapshot record sharing the identity's email,
// including the identity itself.
func (e *Engine) siblings(identity *types.UnifiedIdentity) []*types.UnifiedIdentity {
	if identity.Email == "" {
		return []*types.UnifiedIdentity{identity}
	}
	email := strings.ToLower(identity.Email)
	var out []*types.UnifiedIdentity
	for _, other := range e.identities {
		if other.Email != "" && strings.ToLower(other.Email) == email {
			out = append(out, other)
		}
	}
	if len(out) == 0 {
		out = []*types.UnifiedIdentity{identity}
	}
	return out
}

func lowerAll(roles []string) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = strings.ToLower(r)
	}
	return out
}

const actionsResponseCap = 50

// GenerateAll produces the organization-wide remediation report: all actions
// sorted by priority, breakdowns by priority and category, and the estimated
// total risk reduction capped at 100. The action list in the report is capped
// at 50 entries; the totals cover everything.
func (e *Engine) GenerateAll() types.RemediationReport {
	var allActions []types.RemediationAction
	affected := make(map[string]bool)

	for _, identity := range e.identities {
		actions := e.GenerateForIdentity(identity)
		if len(actions) > 0 {
			affected[identity.ID] = true
			allActions = append(allActions, actions...)
		}
	}

	sort.SliceStable(allActions, func(i, j int) bool {
		return types.PriorityRank(allActions[i].Priority) < types.PriorityRank(allActions[j].Priority)
	})

	priorityCounts := map[types.Priority]int{
		types.PriorityCritical: 0,
		types.PriorityHigh:     0,
		types.PriorityMedium:   0,
		types.PriorityLow:      0,
	}
	categoryCounts := make(map[string]int)
	totalReduction := 0
	autoCount := 0
	for _, a := range allActions {
		priorityCounts[a.Priority]++
		categoryCounts[a.Category]++
		totalReduction += a.EstimatedRiskReduction
		if a.AutoRemediationPossible {
			autoCount++
		}
	}
	if totalReduction > 100 {
		totalReduction = 100
	}

	actions := allActions
	if len(actions) > actionsResponseCap {
		actions = actions[:actionsResponseCap]
	}
	if actions == nil {
		actions = []types.RemediationAction{}
	}

	return types.RemediationReport{
		TotalActions:                len(allActions),
		IdentitiesAffected:          len(affected),
		PriorityBreakdown:           priorityCounts,
		CategoryBreakdown:           categoryCounts,
		AutoRemediableCount:         autoCount,
		ManualCount:                 len(allActions) - autoCount,
		EstimatedTotalRiskReduction: totalReduction,
		Actions:                     actions,
	}
}
