// Package risk scores unified identities. The flat Engine evaluates each
// identity against a fixed catalogue of risk factors using only the snapshot
// and an email correlation index. The EnhancedEngine layers graph-derived
// signals on top: blast radius, attack paths, privilege tiers, and
// organization-wide aggregates.
//
// Both engines are request-scoped value objects built from a snapshot; they
// hold no shared state and are safe to discard after one analysis pass.
package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/beaconsec/identra/pkg/identity/graph"
	"github.com/beaconsec/identra/pkg/identity/roleweight"
	"github.com/beaconsec/identra/pkg/types"
)

// Factor weights. The per-identity sum is capped at 100.
const (
	factorNoMFA               = 30
	factorAdminRole           = 25
	factorOrphaned            = 20
	factorInactive30d         = 10
	factorInactive90d         = 15
	factorPrivilegeEscalation = 20
	factorDuplicateIdentity   = 10
	factorRoleDrift           = 15
	factorMFAInconsistency    = 15
	factorUnlinkedSaaS        = 15
	factorExcessiveGroups     = 10
	factorProdAccess          = 20
	factorPublicRepoAdmin     = 15
	factorStaleCredentials    = 10
	factorSharedAccount       = 20
)

// sharedAccountKeywords flag generic local parts that suggest a shared or
// service mailbox rather than a person.
var sharedAccountKeywords = []string{"svc", "service", "admin", "test", "demo", "temp", "root"}

// Engine is the flat risk engine.
type Engine struct {
	identities []*types.UnifiedIdentity
	emailIndex map[string][]*types.UnifiedIdentity
	now        time.Time
}

// NewEngine builds a flat engine over the snapshot. The clock is captured at
// construction so every identity in one pass is scored against the same
// instant.
func NewEngine(identities []*types.UnifiedIdentity) *Engine {
	return NewEngineAt(identities, time.Now().UTC())
}

// NewEngineAt is NewEngine with an explicit evaluation instant.
func NewEngineAt(identities []*types.UnifiedIdentity, now time.Time) *Engine {
	e := &Engine{
		identities: identities,
		emailIndex: make(map[string][]*types.UnifiedIdentity),
		now:        now,
	}
	for _, id := range identities {
		if id.Email == "" {
			continue
		}
		email := strings.ToLower(id.Email)
		e.emailIndex[email] = append(e.emailIndex[email], id)
	}
	return e
}

// related returns every snapshot record sharing the identity's email,
// including the identity itself. An empty email correlates with nothing, so
// the identity stands alone.
func (e *Engine) related(identity *types.UnifiedIdentity) []*types.UnifiedIdentity {
	if identity.Email == "" {
		return []*types.UnifiedIdentity{identity}
	}
	if rel := e.emailIndex[strings.ToLower(identity.Email)]; len(rel) > 0 {
		return rel
	}
	return []*types.UnifiedIdentity{identity}
}

func isHR(id *types.UnifiedIdentity) bool {
	return id.Source == types.SourceHR || (id.Source == types.SourceDemo && id.Provider == "hr")
}

func isOkta(id *types.UnifiedIdentity) bool {
	return id.Source == types.SourceOkta || (id.Source == types.SourceDemo && id.Provider == "okta")
}

func isGitHub(id *types.UnifiedIdentity) bool {
	return id.Source == types.SourceGitHub || (id.Source == types.SourceDemo && id.Provider == "github")
}

// CalculateRiskScore evaluates one identity against every factor and returns
// its profile: the capped score, the bucketed level, and the human-readable
// reason for each factor that fired.
func (e *Engine) CalculateRiskScore(identity *types.UnifiedIdentity) types.RiskProfile {
	score := 0.0
	var factors []string

	if !identity.MFAEnabled {
		score += factorNoMFA
		factors = append(factors, "No MFA enabled")
	}

	if roleweight.IsAdmin(identity.Roles) {
		score += factorAdminRole
		factors = append(factors, "Account has administrative privileges")
	}

	related := e.related(identity)

	hasHRLink := false
	for _, r := range related {
		if isHR(r) {
			hasHRLink = true
			break
		}
	}
	if !hasHRLink && !isHR(identity) {
		score += factorOrphaned
		factors = append(factors, "Orphaned account (No HR linkage detected)")
	}

	var daysInactive int
	if identity.LastLogin != nil {
		daysInactive = int(e.now.Sub(identity.LastLogin.UTC()).Hours() / 24)
		if daysInactive > 90 {
			score += factorInactive90d
			factors = append(factors, fmt.Sprintf("Account dormant for %d days (Critical)", daysInactive))
		} else if daysInactive > 30 {
			score += factorInactive30d
			factors = append(factors, fmt.Sprintf("Account inactive for %d days", daysInactive))
		}
	}

	if len(related) > 1 {
		score += factorDuplicateIdentity
		factors = append(factors, fmt.Sprintf("Duplicate identity found across %d providers", len(related)))
	}

	mfaStatuses := make(map[bool]bool)
	for _, r := range related {
		mfaStatuses[r.MFAEnabled] = true
	}
	if len(mfaStatuses) > 1 {
		score += factorMFAInconsistency
		factors = append(factors, "MFA status is inconsistent across providers")
	}

	var cloudRoleCounts []int
	for _, r := range related {
		if types.CloudSources[r.EffectiveSource()] {
			cloudRoleCounts = append(cloudRoleCounts, len(r.Roles))
		}
	}
	if len(cloudRoleCounts) > 1 {
		minRoles, maxRoles := cloudRoleCounts[0], cloudRoleCounts[0]
		for _, n := range cloudRoleCounts[1:] {
			if n < minRoles {
				minRoles = n
			}
			if n > maxRoles {
				maxRoles = n
			}
		}
		if maxRoles-minRoles > 2 {
			score += factorRoleDrift
			factors = append(factors, "Potential role drift: significant mismatch in role assignments across clouds")
		}
	}

	if isOkta(identity) {
		hasCloudLink := false
		for _, r := range related {
			if types.CloudSources[r.EffectiveSource()] {
				hasCloudLink = true
				break
			}
		}
		if !hasCloudLink {
			score += factorUnlinkedSaaS
			factors = append(factors, "SaaS identity (Okta) not linked to any cloud IAM provider")
		}
	}

	if len(identity.Roles) >= 10 {
		score += factorPrivilegeEscalation
		factors = append(factors, "Suspiciously high number of assigned roles")
	}

	if len(identity.GroupMembership) > 5 {
		score += factorExcessiveGroups
		factors = append(factors, fmt.Sprintf("Excessive group memberships (%d)", len(identity.GroupMembership)))
	}

	hasProdRole := false
	for _, r := range identity.Roles {
		if strings.Contains(strings.ToLower(r), "prod") {
			hasProdRole = true
			break
		}
	}
	if hasProdRole {
		score += factorProdAccess
		factors = append(factors, "Direct production environment access detected")
	}

	if isGitHub(identity) && roleweight.IsAdmin(identity.Roles) {
		score += factorPublicRepoAdmin
		factors = append(factors, "Administrative rights on potentially public repositories")
	}

	if identity.LastLogin != nil && daysInactive > 90 {
		score += factorStaleCredentials
		factors = append(factors, "Stale security credentials (>90 days)")
	}

	localPart := strings.ToLower(identity.Email)
	if at := strings.Index(localPart, "@"); at >= 0 {
		localPart = localPart[:at]
	}
	if !identity.MFAEnabled {
		for _, kw := range sharedAccountKeywords {
			if strings.Contains(localPart, kw) {
				score += factorSharedAccount
				factors = append(factors, "Likely shared or service account with interactive login enabled")
				break
			}
		}
	}

	if score > 100 {
		score = 100
	}
	if factors == nil {
		factors = []string{}
	}

	return types.RiskProfile{
		IdentityID:     identity.ID,
		TotalRiskScore: score,
		RiskLevel:      types.RiskLevel(score),
		Factors:        factors,
	}
}

// ProcessAll scores the whole snapshot in order.
func (e *Engine) ProcessAll() []types.RiskProfile {
	profiles := make([]types.RiskProfile, 0, len(e.identities))
	for _, id := range e.identities {
		profiles = append(profiles, e.CalculateRiskScore(id))
	}
	return profiles
}

// EnhancedEngine layers graph-derived signals on top of flat scores. It owns
// a relationship graph built from the same snapshot.
type EnhancedEngine struct {
	identities []*types.UnifiedIdentity
	graph      *graph.Graph
	emailIndex map[string][]*types.UnifiedIdentity
}

// NewEnhancedEngine builds the engine and its graph from the snapshot.
func NewEnhancedEngine(identities []*types.UnifiedIdentity) *EnhancedEngine {
	e := &EnhancedEngine{
		identities: identities,
		graph:      graph.New(identities),
		emailIndex: make(map[string][]*types.UnifiedIdentity),
	}
	for _, id := range identities {
		if id.Email == "" {
			continue
		}
		email := strings.ToLower(id.Email)
		e.emailIndex[email] = append(e.emailIndex[email], id)
	}
	return e
}

// Graph exposes the underlying relationship graph for traversal queries.
func (e *EnhancedEngine) Graph() *graph.Graph { return e.graph }

// CalculatePrivilegeTier buckets an identity by the stronger of two signals:
// its most sensitive role and the admins reachable from it in the graph.
func (e *EnhancedEngine) CalculatePrivilegeTier(identity *types.UnifiedIdentity) types.PrivilegeTier {
	maxWeight := roleweight.Max(identity.Roles)
	blast := e.graph.CalculateBlastRadius(identity.ID)

	switch {
	case blast.AdminReachable > 3 || maxWeight >= 0.9:
		return types.TierCritical
	case blast.AdminReachable > 0 || maxWeight >= 0.6:
		return types.TierHigh
	case maxWeight >= 0.3:
		return types.TierMedium
	default:
		return types.TierLow
	}
}

// CalculateExposureLevel scores how reachable an identity is to an attacker
// (0-100): missing MFA, admin roles, sibling accounts on other providers, and
// a small blast radius contribution.
func (e *EnhancedEngine) CalculateExposureLevel(identity *types.UnifiedIdentity) float64 {
	exposure := 0.0
	if !identity.MFAEnabled {
		exposure += 35
	}
	if roleweight.IsAdmin(identity.Roles) {
		exposure += 25
	}

	related := e.emailIndex[strings.ToLower(identity.Email)]
	siblingBoost := float64(len(related)) * 10
	if siblingBoost > 30 {
		siblingBoost = 30
	}
	exposure += siblingBoost

	blast := e.graph.CalculateBlastRadius(identity.ID)
	exposure += float64(blast.BlastRadius) / 100 * 10

	if exposure > 100 {
		exposure = 100
	}
	return exposure
}

const attackPathsPerProfile = 5

// ProcessAllEnhanced analyzes every identity with graph context. Derived
// fields (privilege tier, exposure, attack path count, blast radius, cloud
// accounts) are written back onto the snapshot records so downstream
// consumers see a single coherent view.
func (e *EnhancedEngine) ProcessAllEnhanced() []types.EnhancedProfile {
	profiles := make([]types.EnhancedProfile, 0, len(e.identities))
	for _, identity := range e.identities {
		blast := e.graph.CalculateBlastRadius(identity.ID)
		attackPaths := e.graph.FindAdminTakeoverPaths(identity.ID)
		tier := e.CalculatePrivilegeTier(identity)
		exposure := e.CalculateExposureLevel(identity)

		identity.PrivilegeTier = tier
		identity.ExposureLevel = exposure
		identity.AttackPathCount = len(attackPaths)
		identity.BlastRadius = blast.BlastRadius
		identity.CloudAccounts = e.cloudAccounts(identity)

		if len(attackPaths) > attackPathsPerProfile {
			attackPaths = attackPaths[:attackPathsPerProfile]
		}
		profiles = append(profiles, types.EnhancedProfile{
			Identity:      identity,
			BlastRadius:   blast,
			AttackPaths:   attackPaths,
			PrivilegeTier: tier,
			ExposureLevel: exposure,
		})
	}
	return profiles
}

// cloudAccounts lists the distinct cloud IAM providers where the identity's
// email also appears.
func (e *EnhancedEngine) cloudAccounts(identity *types.UnifiedIdentity) []string {
	seen := make(map[string]bool)
	var accounts []string
	for _, r := range e.emailIndex[strings.ToLower(identity.Email)] {
		src := r.EffectiveSource()
		if types.CloudSources[src] && !seen[src] {
			seen[src] = true
			accounts = append(accounts, src)
		}
	}
	return accounts
}

// GlobalRiskScore blends the average per-identity risk with organization-wide
// gap ratios (MFA coverage, privileged density, critical density, account
// sprawl) into one 0-100 posture number.
func (e *EnhancedEngine) GlobalRiskScore() types.GlobalRiskScore {
	if len(e.identities) == 0 {
		return types.GlobalRiskScore{Score: 0, Level: "Low"}
	}

	n := float64(len(e.identities))
	var totalRisk float64
	var noMFA, admins, critical, totalLinked int
	for _, id := range e.identities {
		totalRisk += id.RiskScore
		if !id.MFAEnabled {
			noMFA++
		}
		if roleweight.IsAdmin(id.Roles) {
			admins++
		}
		if id.RiskScore >= 80 {
			critical++
		}
		totalLinked += len(id.LinkedAccounts)
	}

	avgRisk := totalRisk / n
	mfaFactor := float64(noMFA) / n * 30
	adminFactor := float64(admins) / n * 20
	criticalFactor := float64(critical) / n * 25
	sprawlFactor := float64(totalLinked) / n * 5

	score := avgRisk*0.2 + mfaFactor + adminFactor + criticalFactor + sprawlFactor
	if score > 100 {
		score = 100
	}

	level := "Low"
	switch {
	case score >= 81:
		level = "Critical"
	case score >= 61:
		level = "High"
	case score >= 31:
		level = "Medium"
	}

	return types.GlobalRiskScore{
		Score: round1(score),
		Level: level,
		Breakdown: types.GlobalRiskFactors{
			AvgUserRisk:     round1(avgRisk),
			MFACoverage:     round1(100 - float64(noMFA)/n*100),
			PrivilegedRatio: round1(float64(admins) / n * 100),
			CriticalUsers:   critical,
		},
	}
}

const breachSearchBound = 4

// BreachProbability estimates how likely a compromise chain reaches admin
// privileges. A multi-source BFS from every admin yields each identity's
// distance to the nearest admin; identities within one or two hops are the
// high-risk mass. The MFA gap ratio amplifies the estimate, capped at 98:
// certainty is not on offer.
func (e *EnhancedEngine) BreachProbability() types.BreachProbability {
	if len(e.identities) == 0 {
		return types.BreachProbability{}
	}

	distances := e.graph.AdminDistances(breachSearchBound)
	highRiskPaths := 0
	totalReachable := 0
	for _, d := range distances {
		if d >= 1 && d <= 2 {
			highRiskPaths++
		}
		if d > 0 {
			totalReachable++
		}
	}

	n := float64(len(e.identities))
	noMFA := 0
	for _, id := range e.identities {
		if !id.MFAEnabled {
			noMFA++
		}
	}
	mfaGap := float64(noMFA) / n

	prob := (float64(highRiskPaths)*15+float64(totalReachable)*1.5)/n*10 + mfaGap*45
	if prob > 98 {
		prob = 98
	}

	return types.BreachProbability{
		Probability:   round1(prob),
		TotalPaths:    totalReachable,
		HighRiskPaths: highRiskPaths,
		MFAGapFactor:  round1(mfaGap * 100),
	}
}

// MFACoverage reports MFA enforcement overall and per provider.
func (e *EnhancedEngine) MFACoverage() types.MFACoverage {
	if len(e.identities) == 0 {
		return types.MFACoverage{ByProvider: map[string]float64{}}
	}

	type stat struct{ total, mfa int }
	providerStats := make(map[string]*stat)
	totalMFA := 0
	for _, id := range e.identities {
		src := id.EffectiveSource()
		s := providerStats[src]
		if s == nil {
			s = &stat{}
			providerStats[src] = s
		}
		s.total++
		if id.MFAEnabled {
			s.mfa++
			totalMFA++
		}
	}

	byProvider := make(map[string]float64, len(providerStats))
	for src, s := range providerStats {
		byProvider[src] = round1(float64(s.mfa) / float64(s.total) * 100)
	}

	return types.MFACoverage{
		Coverage:        round1(float64(totalMFA) / float64(len(e.identities)) * 100),
		TotalWithMFA:    totalMFA,
		TotalWithoutMFA: len(e.identities) - totalMFA,
		ByProvider:      byProvider,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
