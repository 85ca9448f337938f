package remediation

import (
	"strings"
	"testing"
	"time"

	"github.com/beaconsec/identra/pkg/types"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) *time.Time {
	t := testNow.Add(-time.Duration(d) * 24 * time.Hour)
	return &t
}

func healthy(id, email string, source types.IdentitySource) *types.UnifiedIdentity {
	return &types.UnifiedIdentity{
		ID:         id,
		Email:      email,
		Source:     source,
		MFAEnabled: true,
		IsActive:   true,
		LastLogin:  daysAgo(2),
	}
}

func actionOfType(actions []types.RemediationAction, actionType string) *types.RemediationAction {
	for i := range actions {
		if actions[i].Type == actionType {
			return &actions[i]
		}
	}
	return nil
}

func TestGenerateForIdentityHealthy(t *testing.T) {
	id := healthy("u1", "fine@example.com", types.SourceAWS)
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	if actions := engine.GenerateForIdentity(id); len(actions) != 0 {
		t.Errorf("healthy identity got %d actions: %v", len(actions), actions)
	}
}

func TestGenerateForIdentityEnableMFA(t *testing.T) {
	user := healthy("u1", "user@example.com", types.SourceAWS)
	user.MFAEnabled = false
	admin := healthy("u2", "boss@example.com", types.SourceAWS)
	admin.MFAEnabled = false
	admin.Roles = []string{"AdministratorAccess"}
	engine := NewEngineAt([]*types.UnifiedIdentity{user, admin}, testNow)

	a := actionOfType(engine.GenerateForIdentity(user), ActionEnableMFA)
	if a == nil {
		t.Fatal("missing enable_mfa action")
	}
	if a.Priority != types.PriorityHigh {
		t.Errorf("priority = %v, want high for non-admin", a.Priority)
	}
	if !a.AutoRemediationPossible || a.EstimatedRiskReduction != 25 {
		t.Errorf("template fields wrong: %+v", a)
	}
	if !strings.Contains(a.Details, "AWS") || !strings.Contains(a.Details, user.Email) {
		t.Errorf("details = %q", a.Details)
	}

	a = actionOfType(engine.GenerateForIdentity(admin), ActionEnableMFA)
	if a == nil || a.Priority != types.PriorityCritical {
		t.Errorf("admin enable_mfa = %+v, want critical priority", a)
	}
}

func TestGenerateForIdentityExcessiveRoles(t *testing.T) {
	id := healthy("u1", "hoarder@example.com", types.SourceAzure)
	id.Roles = []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9", "r10"}
	id.RiskScore = 65
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	a := actionOfType(engine.GenerateForIdentity(id), ActionRemoveUnusedRoles)
	if a == nil {
		t.Fatal("missing remove_unused_roles action")
	}
	// First five roles are treated as essential.
	if len(a.RolesToReview) != 5 {
		t.Errorf("rolesToReview = %v, want the last 5", a.RolesToReview)
	}
	if a.RolesToReview[0] != "r6" {
		t.Errorf("rolesToReview[0] = %q, want r6", a.RolesToReview[0])
	}
	if a.Priority != types.PriorityHigh {
		t.Errorf("priority = %v, want high at risk 65", a.Priority)
	}
}

func TestGenerateForIdentityDormant(t *testing.T) {
	id := healthy("u1", "gone@example.com", types.SourceGCP)
	id.LastLogin = daysAgo(150)
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	a := actionOfType(engine.GenerateForIdentity(id), ActionDisableDormant)
	if a == nil {
		t.Fatal("missing disable_dormant action")
	}
	if a.Priority != types.PriorityMedium {
		t.Errorf("priority = %v, want medium for non-admin", a.Priority)
	}
	if a.DaysInactive != 150 {
		t.Errorf("daysInactive = %d, want 150", a.DaysInactive)
	}

	// Admin dormancy escalates.
	id.Roles = []string{"owner"}
	a = actionOfType(engine.GenerateForIdentity(id), ActionDisableDormant)
	if a == nil || a.Priority != types.PriorityHigh {
		t.Errorf("admin dormant = %+v, want high priority", a)
	}
}

func TestGenerateForIdentityReducePrivilege(t *testing.T) {
	id := healthy("u1", "boss@example.com", types.SourceAWS)
	id.Roles = []string{"admin", "r2", "r3", "r4"}
	id.RiskScore = 55
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	a := actionOfType(engine.GenerateForIdentity(id), ActionReducePrivilege)
	if a == nil {
		t.Fatal("missing reduce_privilege action")
	}
	// Admin at risk >= 50 is critical.
	if a.Priority != types.PriorityCritical {
		t.Errorf("priority = %v, want critical", a.Priority)
	}
	if a.AutoRemediationPossible {
		t.Error("reduce_privilege must require manual review")
	}

	// Three roles or fewer does not trigger.
	id.Roles = []string{"admin", "r2", "r3"}
	if a := actionOfType(engine.GenerateForIdentity(id), ActionReducePrivilege); a != nil {
		t.Errorf("reduce_privilege fired with 3 roles: %+v", a)
	}
}

func TestGenerateForIdentityToxicCombination(t *testing.T) {
	// dbadmin x developer pair.
	id := healthy("u1", "multi@example.com", types.SourceAWS)
	id.Roles = []string{"dbadmin", "developer"}
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	a := actionOfType(engine.GenerateForIdentity(id), ActionSeparateToxic)
	if a == nil {
		t.Fatal("missing separate_toxic action for dbadmin+developer")
	}
	if a.Priority != types.PriorityHigh {
		t.Errorf("priority = %v, want high", a.Priority)
	}
}

func TestGenerateForIdentityLinkOrphanedSaaS(t *testing.T) {
	okta := healthy("u1", "x@co", types.SourceOkta)
	engine := NewEngineAt([]*types.UnifiedIdentity{okta}, testNow)

	a := actionOfType(engine.GenerateForIdentity(okta), ActionLinkIdentity)
	if a == nil {
		t.Fatal("missing link_identity action")
	}
	if a.Priority != types.PriorityMedium {
		t.Errorf("priority = %v, want medium", a.Priority)
	}

	// A cloud sibling silences the action.
	aws := healthy("u2", "x@co", types.SourceAWS)
	engine = NewEngineAt([]*types.UnifiedIdentity{okta, aws}, testNow)
	if a := actionOfType(engine.GenerateForIdentity(okta), ActionLinkIdentity); a != nil {
		t.Errorf("link_identity fired despite cloud sibling: %+v", a)
	}
}

func TestGenerateForIdentityRestrictCrossCloud(t *testing.T) {
	aws := healthy("u1", "bob@co", types.SourceAWS)
	aws.Roles = []string{"AdministratorAccess"}
	azure := healthy("u2", "bob@co", types.SourceAzure)
	azure.Roles = []string{"Global Administrator"}
	engine := NewEngineAt([]*types.UnifiedIdentity{aws, azure}, testNow)

	for _, id := range []*types.UnifiedIdentity{aws, azure} {
		a := actionOfType(engine.GenerateForIdentity(id), ActionRestrictCrossCloud)
		if a == nil {
			t.Fatalf("missing restrict_cross_cloud for %s", id.ID)
		}
		if a.Priority != types.PriorityHigh {
			t.Errorf("priority = %v, want high", a.Priority)
		}
		if !strings.Contains(a.Details, "2 cloud providers") {
			t.Errorf("details = %q", a.Details)
		}
	}

	// A single cloud admin is fine.
	lone := healthy("u3", "solo@co", types.SourceAWS)
	lone.Roles = []string{"admin"}
	engine = NewEngineAt([]*types.UnifiedIdentity{lone}, testNow)
	if a := actionOfType(engine.GenerateForIdentity(lone), ActionRestrictCrossCloud); a != nil {
		t.Errorf("restrict_cross_cloud fired for single cloud admin: %+v", a)
	}
}

func TestGenerateForIdentityPriorityOrdering(t *testing.T) {
	// Admin without MFA, dormant, with excessive roles: several actions at
	// mixed priorities, returned critical first.
	id := healthy("u1", "mess@example.com", types.SourceAWS)
	id.MFAEnabled = false
	id.LastLogin = daysAgo(120)
	id.Roles = []string{"admin", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9"}
	id.RiskScore = 90
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	actions := engine.GenerateForIdentity(id)
	if len(actions) < 3 {
		t.Fatalf("actions = %d, want at least 3", len(actions))
	}
	for i := 1; i < len(actions); i++ {
		if types.PriorityRank(actions[i-1].Priority) > types.PriorityRank(actions[i].Priority) {
			t.Fatalf("actions out of priority order at %d: %v then %v",
				i, actions[i-1].Priority, actions[i].Priority)
		}
	}
}

func TestGenerateAllReport(t *testing.T) {
	noMFA := healthy("u1", "a@example.com", types.SourceAWS)
	noMFA.MFAEnabled = false
	dormant := healthy("u2", "b@example.com", types.SourceAzure)
	dormant.LastLogin = daysAgo(200)
	clean := healthy("u3", "c@example.com", types.SourceGCP)

	engine := NewEngineAt([]*types.UnifiedIdentity{noMFA, dormant, clean}, testNow)
	report := engine.GenerateAll()

	if report.TotalActions != 2 {
		t.Errorf("totalActions = %d, want 2", report.TotalActions)
	}
	if report.IdentitiesAffected != 2 {
		t.Errorf("identitiesAffected = %d, want 2", report.IdentitiesAffected)
	}
	if report.PriorityBreakdown[types.PriorityHigh] != 1 ||
		report.PriorityBreakdown[types.PriorityMedium] != 1 {
		t.Errorf("priorityBreakdown = %v", report.PriorityBreakdown)
	}
	if report.CategoryBreakdown["Authentication"] != 1 ||
		report.CategoryBreakdown["Account Lifecycle"] != 1 {
		t.Errorf("categoryBreakdown = %v", report.CategoryBreakdown)
	}
	// Both triggered templates are auto-remediable.
	if report.AutoRemediableCount != 2 || report.ManualCount != 0 {
		t.Errorf("auto/manual = %d/%d, want 2/0", report.AutoRemediableCount, report.ManualCount)
	}
	// 25 + 20.
	if report.EstimatedTotalRiskReduction != 45 {
		t.Errorf("estimated reduction = %d, want 45", report.EstimatedTotalRiskReduction)
	}
}

func TestGenerateAllCapsActionList(t *testing.T) {
	var ids []*types.UnifiedIdentity
	for i := 0; i < 60; i++ {
		id := healthy(string(rune('a'+i%26))+string(rune('0'+i/26)), "", types.SourceAWS)
		id.Email = id.ID + "@example.com"
		id.MFAEnabled = false
		ids = append(ids, id)
	}
	engine := NewEngineAt(ids, testNow)

	report := engine.GenerateAll()
	if report.TotalActions != 60 {
		t.Errorf("totalActions = %d, want 60", report.TotalActions)
	}
	if len(report.Actions) != 50 {
		t.Errorf("actions list = %d, want capped at 50", len(report.Actions))
	}
	if report.EstimatedTotalRiskReduction != 100 {
		t.Errorf("estimated reduction = %d, want capped at 100", report.EstimatedTotalRiskReduction)
	}
}
