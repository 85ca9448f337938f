package risk

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

func baseline(id, email string) *types.UnifiedIdentity {
	return &types.UnifiedIdentity{
		ID:         id,
		Email:      email,
		Source:     types.SourceAWS,
		MFAEnabled: true,
		IsActive:   true,
		LastLogin:  daysAgo(1),
	}
}

// hrTwin pairs an identity with an HR record so the orphaned factor stays
// quiet in tests that target other factors.
func hrTwin(email string) *types.UnifiedIdentity {
	return &types.UnifiedIdentity{
		ID:         "hr-" + email,
		Email:      email,
		Source:     types.SourceHR,
		MFAEnabled: true,
		IsActive:   true,
		LastLogin:  daysAgo(1),
	}
}

func profileFor(t *testing.T, engine *Engine, id string) types.RiskProfile {
	t.Helper()
	for _, p := range engine.ProcessAll() {
		if p.IdentityID == id {
			return p
		}
	}
	t.Fatalf("no profile for %q", id)
	return types.RiskProfile{}
}

func hasFactor(p types.RiskProfile, substr string) bool {
	for _, f := range p.Factors {
		if strings.Contains(f, substr) {
			return true
		}
	}
	return false
}

func TestCalculateRiskScoreCleanIdentity(t *testing.T) {
	id := baseline("u1", "clean@example.com")
	engine := NewEngineAt([]*types.UnifiedIdentity{id, hrTwin("clean@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	// MFA inconsistency and duplicate factors fire because the HR twin makes
	// a pair; with twin MFA matching, only the duplicate factor remains.
	if hasFactor(p, "No MFA") || hasFactor(p, "administrative") || hasFactor(p, "Orphaned") {
		t.Errorf("clean identity triggered unexpected factors: %v", p.Factors)
	}
	if p.TotalRiskScore != 10 {
		t.Errorf("score = %v, want 10 (duplicate identity only)", p.TotalRiskScore)
	}
	if p.RiskLevel != "Low" {
		t.Errorf("level = %q, want Low", p.RiskLevel)
	}
}

func TestCalculateRiskScoreNoMFA(t *testing.T) {
	id := baseline("u1", "casey@example.com")
	id.MFAEnabled = false
	engine := NewEngineAt([]*types.UnifiedIdentity{id, hrTwin("casey@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "No MFA enabled") {
		t.Errorf("missing MFA factor, got %v", p.Factors)
	}
	// No MFA also flips the cross-provider MFA inconsistency factor.
	if !hasFactor(p, "inconsistent across providers") {
		t.Errorf("missing MFA inconsistency factor, got %v", p.Factors)
	}
}

func TestCalculateRiskScoreAdminRole(t *testing.T) {
	id := baseline("u1", "root@example.com")
	id.Roles = []string{"AdministratorAccess"}
	engine := NewEngineAt([]*types.UnifiedIdentity{id, hrTwin("root@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "administrative privileges") {
		t.Errorf("missing admin factor, got %v", p.Factors)
	}
}

func TestCalculateRiskScoreOrphaned(t *testing.T) {
	id := baseline("u1", "ghost@example.com")
	engine := NewEngineAt([]*types.UnifiedIdentity{id}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "Orphaned account") {
		t.Errorf("missing orphaned factor, got %v", p.Factors)
	}
}

func TestCalculateRiskScoreHRSourceNeverOrphaned(t *testing.T) {
	hr := hrTwin("people@example.com")
	engine := NewEngineAt([]*types.UnifiedIdentity{hr}, testNow)

	p := profileFor(t, engine, hr.ID)
	if hasFactor(p, "Orphaned account") {
		t.Errorf("HR record flagged as orphaned: %v", p.Factors)
	}
}

func TestCalculateRiskScoreDemoHRProviderCountsAsHRLink(t *testing.T) {
	id := baseline("u1", "dana@example.com")
	demoHR := &types.UnifiedIdentity{
		ID: "d1", Email: "dana@example.com",
		Source: types.SourceDemo, Provider: "hr",
		MFAEnabled: true, LastLogin: daysAgo(1),
	}
	engine := NewEngineAt([]*types.UnifiedIdentity{id, demoHR}, testNow)

	p := profileFor(t, engine, "u1")
	if hasFactor(p, "Orphaned account") {
		t.Errorf("demo hr link not honored: %v", p.Factors)
	}
}

func TestCalculateRiskScoreInactivityTiers(t *testing.T) {
	tests := []struct {
		name      string
		lastLogin *time.Time
		want      string
		absent    string
	}{
		{"recent", daysAgo(5), "", "inactive"},
		{"inactive", daysAgo(45), "Account inactive for 45 days", "dormant"},
		{"dormant", daysAgo(120), "Account dormant for 120 days (Critical)", "inactive for"},
		{"never seen", nil, "", "inactive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := baseline("u1", "lee@example.com")
			id.LastLogin = tt.lastLogin
			engine := NewEngineAt([]*types.UnifiedIdentity{id, hrTwin("lee@example.com")}, testNow)

			p := profileFor(t, engine, "u1")
			if tt.want != "" && !hasFactor(p, tt.want) {
				t.Errorf("missing factor %q, got %v", tt.want, p.Factors)
			}
			if hasFactor(p, tt.absent) {
				t.Errorf("unexpected factor matching %q: %v", tt.absent, p.Factors)
			}
		})
	}
}

func TestCalculateRiskScoreDormantAlsoStaleCredentials(t *testing.T) {
	id := baseline("u1", "old@example.com")
	id.LastLogin = daysAgo(200)
	engine := NewEngineAt([]*types.UnifiedIdentity{id, hrTwin("old@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "dormant for 200 days") || !hasFactor(p, "Stale security credentials") {
		t.Errorf("dormancy must trigger both factors, got %v", p.Factors)
	}
}

func TestCalculateRiskScoreRoleDrift(t *testing.T) {
	aws := baseline("u1", "drift@example.com")
	aws.Roles = []string{"r1", "r2", "r3", "r4", "r5"}
	azure := baseline("u2", "drift@example.com")
	azure.Source = types.SourceAzure
	azure.Roles = []string{"r1"}
	engine := NewEngineAt([]*types.UnifiedIdentity{aws, azure, hrTwin("drift@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "role drift") {
		t.Errorf("missing role drift factor, got %v", p.Factors)
	}
}

func TestCalculateRiskScoreUnlinkedSaaS(t *testing.T) {
	okta := baseline("u1", "saas@example.com")
	okta.Source = types.SourceOkta
	engine := NewEngineAt([]*types.UnifiedIdentity{okta, hrTwin("saas@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "not linked to any cloud IAM provider") {
		t.Errorf("missing unlinked SaaS factor, got %v", p.Factors)
	}

	// A cloud sibling silences the factor.
	aws := baseline("u2", "saas@example.com")
	engine = NewEngineAt([]*types.UnifiedIdentity{okta, aws, hrTwin("saas@example.com")}, testNow)
	p = profileFor(t, engine, "u1")
	if hasFactor(p, "not linked to any cloud IAM provider") {
		t.Errorf("unlinked SaaS fired despite cloud sibling: %v", p.Factors)
	}
}

func TestCalculateRiskScoreProductionAndGitHub(t *testing.T) {
	gh := baseline("u1", "dev@example.com")
	gh.Source = types.SourceGitHub
	gh.Roles = []string{"repo-admin", "prod-deploy"}
	engine := NewEngineAt([]*types.UnifiedIdentity{gh, hrTwin("dev@example.com")}, testNow)

	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "production environment access") {
		t.Errorf("missing production factor, got %v", p.Factors)
	}
	if !hasFactor(p, "public repositories") {
		t.Errorf("missing public repo admin factor, got %v", p.Factors)
	}
}

func TestCalculateRiskScoreSharedAccountNeedsMFAGap(t *testing.T) {
	svc := baseline("u1", "svc-backup@example.com")
	svc.MFAEnabled = false
	engine := NewEngineAt([]*types.UnifiedIdentity{svc}, testNow)
	p := profileFor(t, engine, "u1")
	if !hasFactor(p, "shared or service account") {
		t.Errorf("missing shared account factor, got %v", p.Factors)
	}

	// With MFA on, the keyword alone is not enough.
	svc2 := baseline("u2", "svc-other@example.com")
	engine = NewEngineAt([]*types.UnifiedIdentity{svc2}, testNow)
	p = profileFor(t, engine, "u2")
	if hasFactor(p, "shared or service account") {
		t.Errorf("shared account fired despite MFA: %v", p.Factors)
	}
}

func TestCalculateRiskScoreCap(t *testing.T) {
	worst := &types.UnifiedIdentity{
		ID:     "u1",
		Email:  "svc-root-admin@example.com",
		Source: types.SourceGitHub,
		Roles: []string{
			"admin", "prod-deploy", "r3", "r4", "r5",
			"r6", "r7", "r8", "r9", "r10",
		},
		GroupMembership: []string{"g1", "g2", "g3", "g4", "g5", "g6"},
		LastLogin:       daysAgo(400),
	}
	engine := NewEngineAt([]*types.UnifiedIdentity{worst}, testNow)

	p := profileFor(t, engine, "u1")
	if p.TotalRiskScore != 100 {
		t.Errorf("score = %v, want capped at 100", p.TotalRiskScore)
	}
	if p.RiskLevel != "Critical" {
		t.Errorf("level = %q, want Critical", p.RiskLevel)
	}
}

func TestCalculateRiskScoreAdminNoMFANoHRLinkage(t *testing.T) {
	alice := &types.UnifiedIdentity{
		ID:         "a1",
		Email:      "alice@co",
		Source:     types.SourceAWS,
		Roles:      []string{"AdministratorAccess"},
		MFAEnabled: false,
		IsActive:   true,
	}
	engine := NewEngineAt([]*types.UnifiedIdentity{alice}, testNow)

	p := profileFor(t, engine, "a1")
	// 30 no MFA + 25 admin + 20 orphaned.
	if p.TotalRiskScore != 75 {
		t.Errorf("score = %v, want 75", p.TotalRiskScore)
	}
	if p.RiskLevel != "High" {
		t.Errorf("level = %q, want High", p.RiskLevel)
	}
}

func TestProcessAllOrderAndCount(t *testing.T) {
	ids := []*types.UnifiedIdentity{
		baseline("a", "a@example.com"),
		baseline("b", "b@example.com"),
		baseline("c", "c@example.com"),
	}
	engine := NewEngineAt(ids, testNow)

	profiles := engine.ProcessAll()
	if len(profiles) != 3 {
		t.Fatalf("profiles = %d, want 3", len(profiles))
	}
	for i, want := range []string{"a", "b", "c"} {
		if profiles[i].IdentityID != want {
			t.Errorf("profiles[%d] = %q, want %q", i, profiles[i].IdentityID, want)
		}
	}
}

func TestCalculatePrivilegeTier(t *testing.T) {
	admin := baseline("admin", "boss@example.com")
	admin.Roles = []string{"AdministratorAccess"}
	writer := baseline("writer", "writer@example.com")
	writer.Roles = []string{"Contributor"}
	reader := baseline("reader", "reader@example.com")
	reader.Roles = []string{"viewer"}
	nobody := baseline("nobody", "nobody@example.com")

	engine := NewEnhancedEngine([]*types.UnifiedIdentity{admin, writer, reader, nobody})

	tests := []struct {
		id   *types.UnifiedIdentity
		want types.PrivilegeTier
	}{
		{admin, types.TierCritical},
		{writer, types.TierHigh},
		{nobody, types.TierLow},
	}
	for _, tt := range tests {
		if got := engine.CalculatePrivilegeTier(tt.id); got != tt.want {
			t.Errorf("tier(%s) = %v, want %v", tt.id.ID, got, tt.want)
		}
	}

	// A nobody directly linked to an admin is pulled up by reachability.
	linked := baseline("linked", "linked@example.com")
	linked.LinkedAccounts = []string{"admin"}
	engine = NewEnhancedEngine([]*types.UnifiedIdentity{admin, linked})
	if got := engine.CalculatePrivilegeTier(linked); got != types.TierHigh {
		t.Errorf("tier(linked) = %v, want high via admin reachability", got)
	}
}

func TestCalculateExposureLevelBounds(t *testing.T) {
	lone := baseline("lone", "lone@example.com")
	engine := NewEnhancedEngine([]*types.UnifiedIdentity{lone})
	// One sibling (itself) contributes 10.
	if got := engine.CalculateExposureLevel(lone); got != 10 {
		t.Errorf("exposure = %v, want 10", got)
	}

	exposed := baseline("exp", "shared@example.com")
	exposed.MFAEnabled = false
	exposed.Roles = []string{"admin"}
	siblings := []*types.UnifiedIdentity{exposed}
	for _, src := range []types.IdentitySource{types.SourceAzure, types.SourceGCP, types.SourceOkta} {
		s := baseline("sib-"+string(src), "shared@example.com")
		s.Source = src
		siblings = append(siblings, s)
	}
	engine = NewEnhancedEngine(siblings)
	got := engine.CalculateExposureLevel(exposed)
	if got < 90 || got > 100 {
		t.Errorf("exposure = %v, want within [90,100]", got)
	}
}

func TestProcessAllEnhancedWritesDerivedFields(t *testing.T) {
	admin := baseline("admin", "boss@example.com")
	admin.Roles = []string{"admin"}
	dev := baseline("dev", "dev@example.com")
	dev.LinkedAccounts = []string{"admin"}
	azureDev := baseline("dev-az", "dev@example.com")
	azureDev.Source = types.SourceAzure

	engine := NewEnhancedEngine([]*types.UnifiedIdentity{admin, dev, azureDev})
	profiles := engine.ProcessAllEnhanced()
	if len(profiles) != 3 {
		t.Fatalf("profiles = %d, want 3", len(profiles))
	}

	if dev.PrivilegeTier == "" {
		t.Error("derived privilege tier not written back")
	}
	if dev.AttackPathCount == 0 {
		t.Error("dev should have at least one attack path to admin")
	}
	if dev.BlastRadius <= 0 {
		t.Error("connected identity should have positive blast radius")
	}

	found := false
	for _, acct := range dev.CloudAccounts {
		if acct == "azure" {
			found = true
		}
	}
	if !found {
		t.Errorf("cloudAccounts = %v, want to include azure sibling", dev.CloudAccounts)
	}
}

func TestGlobalRiskScoreEmptySnapshot(t *testing.T) {
	engine := NewEnhancedEngine(nil)
	global := engine.GlobalRiskScore()
	if global.Score != 0 || global.Level != "Low" {
		t.Errorf("empty snapshot = %+v, want zero score, Low", global)
	}
}

func TestGlobalRiskScoreLevels(t *testing.T) {
	// All identities critical, no MFA, admin: drives the score into Critical.
	var ids []*types.UnifiedIdentity
	for i := 0; i < 4; i++ {
		id := baseline("u"+string(rune('a'+i)), "u"+string(rune('a'+i))+"@example.com")
		id.MFAEnabled = false
		id.Roles = []string{"admin"}
		id.RiskScore = 95
		ids = append(ids, id)
	}
	engine := NewEnhancedEngine(ids)

	global := engine.GlobalRiskScore()
	if global.Level != "Critical" {
		t.Errorf("level = %q (score %v), want Critical", global.Level, global.Score)
	}
	if global.Breakdown.MFACoverage != 0 {
		t.Errorf("mfaCoverage = %v, want 0", global.Breakdown.MFACoverage)
	}
	if global.Breakdown.PrivilegedRatio != 100 {
		t.Errorf("privilegedRatio = %v, want 100", global.Breakdown.PrivilegedRatio)
	}
	if global.Breakdown.CriticalUsers != 4 {
		t.Errorf("criticalUsers = %d, want 4", global.Breakdown.CriticalUsers)
	}
}

func TestBreachProbability(t *testing.T) {
	admin := baseline("admin", "boss@example.com")
	admin.Roles = []string{"admin"}
	near := baseline("near", "near@example.com")
	near.LinkedAccounts = []string{"admin"}
	near.MFAEnabled = false
	far := baseline("far", "far@example.com")
	far.LinkedAccounts = []string{"near"}

	engine := NewEnhancedEngine([]*types.UnifiedIdentity{admin, near, far})
	breach := engine.BreachProbability()

	if breach.HighRiskPaths != 2 {
		t.Errorf("highRiskPaths = %d, want 2 (near at d=1, far at d=2)", breach.HighRiskPaths)
	}
	if breach.TotalPaths != 2 {
		t.Errorf("totalPaths = %d, want 2", breach.TotalPaths)
	}
	if breach.Probability <= 0 || breach.Probability > 98 {
		t.Errorf("probability = %v, want in (0,98]", breach.Probability)
	}
}

func TestBreachProbabilityCap(t *testing.T) {
	// Everyone is one hop from an admin and nobody has MFA.
	var ids []*types.UnifiedIdentity
	admin := baseline("admin", "boss@example.com")
	admin.Roles = []string{"admin"}
	admin.MFAEnabled = false
	for i := 0; i < 10; i++ {
		id := baseline("u"+string(rune('a'+i)), "u"+string(rune('a'+i))+"@example.com")
		id.MFAEnabled = false
		id.LinkedAccounts = []string{"admin"}
		ids = append(ids, id)
	}
	ids = append(ids, admin)

	engine := NewEnhancedEngine(ids)
	if got := engine.BreachProbability().Probability; got != 98 {
		t.Errorf("probability = %v, want capped at 98", got)
	}
}

func TestMFACoverage(t *testing.T) {
	on := baseline("on", "on@example.com")
	off := baseline("off", "off@example.com")
	off.MFAEnabled = false
	demo := baseline("demo", "demo-user@example.com")
	demo.Source = types.SourceDemo
	demo.Provider = "gcp"

	engine := NewEnhancedEngine([]*types.UnifiedIdentity{on, off, demo})
	cov := engine.MFACoverage()

	if cov.TotalWithMFA != 2 || cov.TotalWithoutMFA != 1 {
		t.Errorf("with/without = %d/%d, want 2/1", cov.TotalWithMFA, cov.TotalWithoutMFA)
	}
	if cov.Coverage != 66.7 {
		t.Errorf("coverage = %v, want 66.7", cov.Coverage)
	}
	if cov.ByProvider["aws"] != 50 {
		t.Errorf("byProvider[aws] = %v, want 50", cov.ByProvider["aws"])
	}
	// Demo records roll up under the provider they simulate.
	if cov.ByProvider["gcp"] != 100 {
		t.Errorf("byProvider[gcp] = %v, want 100", cov.ByProvider["gcp"])
	}
	if _, ok := cov.ByProvider["demo"]; ok {
		t.Error("demo must not appear as its own provider")
	}
}
