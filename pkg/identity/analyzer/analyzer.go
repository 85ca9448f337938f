// Package analyzer is the facade over the identity analysis engines. One
// Analyzer is built per request from an identity snapshot and runs the flat
// risk engine, the graph-enhanced engine, the compliance engine, and the
// remediation engine against that single consistent view. Nothing is cached
// across requests.
package analyzer

import (
	"errors"
	"strings"
	"time"

	"github.com/beaconsec/identra/pkg/identity/compliance"
	"github.com/beaconsec/identra/pkg/identity/graph"
	"github.com/beaconsec/identra/pkg/identity/remediation"
	"github.com/beaconsec/identra/pkg/identity/risk"
	"github.com/beaconsec/identra/pkg/identity/roleweight"
	"github.com/beaconsec/identra/pkg/types"
)

// ErrIdentityNotFound is returned for lookups of ids absent from the
// snapshot.
var ErrIdentityNotFound = errors.New("identity not found")

// Analyzer runs all engines over one snapshot.
type Analyzer struct {
	identities  []*types.UnifiedIdentity
	flat        *risk.Engine
	enhanced    *risk.EnhancedEngine
	compliance  *compliance.Engine
	remediation *remediation.Engine
	now         time.Time

	processed bool
}

// New builds an analyzer over the snapshot with the clock captured now.
func New(identities []*types.UnifiedIdentity) *Analyzer {
	return NewAt(identities, time.Now().UTC())
}

// NewAt is New with an explicit evaluation instant.
func NewAt(identities []*types.UnifiedIdentity, now time.Time) *Analyzer {
	return &Analyzer{
		identities:  identities,
		flat:        risk.NewEngineAt(identities, now),
		enhanced:    risk.NewEnhancedEngine(identities),
		compliance:  compliance.NewEngineAt(identities, now),
		remediation: remediation.NewEngineAt(identities, now),
		now:         now,
	}
}

// ensureProcessed runs the enhanced pass once so derived fields (privilege
// tier, exposure, blast radius) are populated on the snapshot records.
func (a *Analyzer) ensureProcessed() {
	if !a.processed {
		a.enhanced.ProcessAllEnhanced()
		a.processed = true
	}
}

// lookup finds a snapshot record by id.
func (a *Analyzer) lookup(identityID string) (*types.UnifiedIdentity, error) {
	for _, id := range a.identities {
		if id.ID == identityID {
			return id, nil
		}
	}
	return nil, ErrIdentityNotFound
}

// Identities returns the analyzed snapshot with derived fields populated.
func (a *Analyzer) Identities() []*types.UnifiedIdentity {
	a.ensureProcessed()
	return a.identities
}

// Summary computes the dashboard headline report in a single pass over the
// snapshot plus the organization-wide enhanced aggregates.
func (a *Analyzer) Summary() types.Summary {
	var risky, critical, orphaned, mfaFailures, admins, escalations int
	for _, id := range a.identities {
		if id.RiskScore >= 50 {
			risky++
		}
		if id.RiskScore >= 80 {
			critical++
		}
		if len(id.LinkedAccounts) == 0 {
			orphaned++
		}
		if !id.MFAEnabled {
			mfaFailures++
		}
		if roleweight.IsAdmin(id.Roles) {
			admins++
			escalations++
		} else if len(id.Roles) >= 10 {
			escalations++
		}
	}

	n := len(a.identities)
	privilegedRatio := 0.0
	if n > 0 {
		privilegedRatio = float64(admins) / float64(n) * 100
	}

	return types.Summary{
		TotalIdentities:      n,
		RiskyUsers:           risky,
		CriticalAlerts:       critical,
		OrphanedAccounts:     orphaned,
		MFAFailures:          mfaFailures,
		PrivilegeEscalations: escalations,
		AdminCount:           admins,
		PrivilegedRatio:      privilegedRatio,
		LastSync:             a.now,
		GlobalRiskScore:      a.enhanced.GlobalRiskScore(),
		BreachProbability:    a.enhanced.BreachProbability(),
		MFACoverage:          a.enhanced.MFACoverage(),
	}
}

// Detail limits keep the single-identity payload bounded.
const (
	detailAttackPathLimit = 5
	detailLateralLimit    = 5
	detailConnectedLimit  = 10
	detailConnectedDepth  = 2
)

// Detail assembles the single-identity drill-down: the record with derived
// fields, its risk factors, graph context, remediation suggestions, and
// compliance result.
func (a *Analyzer) Detail(identityID string) (types.IdentityDetail, error) {
	identity, err := a.lookup(identityID)
	if err != nil {
		return types.IdentityDetail{}, err
	}
	a.ensureProcessed()

	g := a.enhanced.Graph()
	blast := g.CalculateBlastRadius(identityID)
	attackPaths := g.FindAdminTakeoverPaths(identityID)
	if len(attackPaths) > detailAttackPathLimit {
		attackPaths = attackPaths[:detailAttackPathLimit]
	}
	lateral := g.DetectLateralMovementPaths(identityID)
	if len(lateral) > detailLateralLimit {
		lateral = lateral[:detailLateralLimit]
	}
	connected := g.ConnectedIdentities(identityID, detailConnectedDepth)
	if len(connected) > detailConnectedLimit {
		connected = connected[:detailConnectedLimit]
	}

	profile := a.flat.CalculateRiskScore(identity)

	return types.IdentityDetail{
		Identity:            *identity,
		Source:              identity.EffectiveSource(),
		RiskFactors:         profile.Factors,
		RiskLevel:           profile.RiskLevel,
		BlastRadius:         blast,
		AttackPaths:         attackPaths,
		LateralMovement:     lateral,
		ConnectedIdentities: connected,
		Remediations:        a.remediation.GenerateForIdentity(identity),
		Compliance:          a.compliance.CheckIdentity(identity),
	}, nil
}

// RiskProfile returns the flat risk profile for one identity extended with
// graph context: escalation path count, blast radius, and an anomaly flag for
// scores above 70.
func (a *Analyzer) RiskProfile(identityID string) (types.RiskProfileReport, error) {
	identity, err := a.lookup(identityID)
	if err != nil {
		return types.RiskProfileReport{}, err
	}

	profile := a.flat.CalculateRiskScore(identity)
	g := a.enhanced.Graph()
	paths := g.FindAdminTakeoverPaths(identityID)
	blast := g.CalculateBlastRadius(identityID)

	return types.RiskProfileReport{
		RiskProfile:          profile,
		EscalationPathsCount: len(paths),
		BlastRadiusScore:     blast.BlastRadius,
		AnomalyFlag:          profile.TotalRiskScore > 70,
	}, nil
}

// ComplianceForIdentity evaluates one identity against the policy catalogue.
func (a *Analyzer) ComplianceForIdentity(identityID string) (types.ComplianceResult, error) {
	identity, err := a.lookup(identityID)
	if err != nil {
		return types.ComplianceResult{}, err
	}
	return a.compliance.CheckIdentity(identity), nil
}

// GlobalCompliance returns the organization-wide compliance report.
func (a *Analyzer) GlobalCompliance() types.ComplianceReport {
	return a.compliance.GlobalReport()
}

// Remediations returns the organization-wide remediation report.
func (a *Analyzer) Remediations() types.RemediationReport {
	return a.remediation.GenerateAll()
}

// RiskProfiles runs the flat engine over the whole snapshot.
func (a *Analyzer) RiskProfiles() []types.RiskProfile {
	return a.flat.ProcessAll()
}

// Graph exports the full relationship graph for visualization. The enhanced
// pass runs first so exported nodes carry privilege tiers.
func (a *Analyzer) Graph() types.GraphExport {
	a.ensureProcessed()
	return a.enhanced.Graph().Export()
}

const attackPathGraphDepth = 3

// AttackPathGraph exports the local subgraph around one identity for the
// attack path visualization.
func (a *Analyzer) AttackPathGraph(identityID string) (types.GraphExport, error) {
	g := a.enhanced.Graph()
	if !g.Contains(identityID) {
		return types.GraphExport{}, ErrIdentityNotFound
	}
	return g.LocalSubgraph(identityID, attackPathGraphDepth), nil
}

// CurrentTrendPoint condenses the snapshot into one trend point, used when no
// sync history exists yet.
func (a *Analyzer) CurrentTrendPoint() types.TrendPoint {
	global := a.enhanced.GlobalRiskScore()
	mfa := a.enhanced.MFACoverage()
	return types.TrendPoint{
		Date:            a.now.Format("2006-01-02"),
		Score:           global.Score,
		MFACoverage:     mfa.Coverage,
		CriticalCount:   global.Breakdown.CriticalUsers,
		TotalIdentities: len(a.identities),
		Provider:        "all",
	}
}

// DashboardAggregation builds the chart payload for the dashboard: provider
// and risk distributions, privileged and admin splits, and provider-specific
// high-value role counts. Sync history is attached by the caller.
func (a *Analyzer) DashboardAggregation() types.DashboardAggregation {
	a.ensureProcessed()

	agg := types.DashboardAggregation{
		TotalIdentities:      len(a.identities),
		ProviderDistribution: make(map[string]int),
		RiskDistribution:     map[string]int{"critical": 0, "high": 0, "medium": 0, "low": 0},
		SyncHistory:          []types.SyncRecord{},
		IdentityList:         make([]types.DashboardRow, 0, len(a.identities)),
	}

	for _, id := range a.identities {
		src := id.EffectiveSource()
		agg.ProviderDistribution[src]++

		if id.PrivilegeTier == types.TierHigh || id.PrivilegeTier == types.TierCritical {
			agg.PrivilegedCount++
		} else {
			agg.NonPrivilegedCount++
		}

		if roleweight.IsAdmin(id.Roles) {
			agg.AdminCount++
		} else {
			agg.StandardCount++
		}

		switch {
		case id.RiskScore >= 80:
			agg.RiskDistribution["critical"]++
			agg.HighRiskCount++
		case id.RiskScore >= 61:
			agg.RiskDistribution["high"]++
			agg.HighRiskCount++
		case id.RiskScore >= 31:
			agg.RiskDistribution["medium"]++
		default:
			agg.RiskDistribution["low"]++
		}

		a.countHighValueRoles(id, src, &agg)

		agg.IdentityList = append(agg.IdentityList, types.DashboardRow{
			ID:            id.ID,
			Email:         id.Email,
			Source:        src,
			Roles:         id.Roles,
			RiskScore:     id.RiskScore,
			PrivilegeTier: id.PrivilegeTier,
			MFAEnabled:    id.MFAEnabled,
			IsActive:      id.IsActive,
		})
	}

	return agg
}

// privilegedRoleNames are the exact role names counted as IAM ownership on
// providers without native owner semantics.
var privilegedRoleNames = map[string]bool{
	"administratoraccess":  true,
	"global administrator": true,
	"owner":                true,
	"super admin":          true,
}

func (a *Analyzer) countHighValueRoles(id *types.UnifiedIdentity, src string, agg *types.DashboardAggregation) {
	switch src {
	case "gcp":
		for _, r := range id.Roles {
			if strings.Contains(r, "roles/owner") {
				agg.IAMOwners++
				break
			}
		}
	case "github":
		if roleweight.IsAdmin(id.Roles) {
			agg.RepoAdmins++
		}
	case "aws", "azure", "okta", "gitlab":
		for _, r := range id.Roles {
			if privilegedRoleNames[strings.ToLower(r)] {
				if src == "gitlab" {
					agg.RepoAdmins++
				} else {
					agg.IAMOwners++
				}
				break
			}
		}
	}
}

// RiskDistribution exposes the graph engine's bucketed distribution.
func (a *Analyzer) RiskDistribution() map[string]int {
	return a.enhanced.Graph().RiskDistribution()
}

// Graph access for callers needing raw traversals.
func (a *Analyzer) RelationshipGraph() *graph.Graph {
	return a.enhanced.Graph()
}
