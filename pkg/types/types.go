package types

import (
	"time"
)

// IdentitySource identifies the provider an identity record originated from.
type IdentitySource string

const (
	SourceAWS    IdentitySource = "aws"
	SourceAzure  IdentitySource = "azure"
	SourceGCP    IdentitySource = "gcp"
	SourceOkta   IdentitySource = "okta"
	SourceGitHub IdentitySource = "github"
	SourceGitLab IdentitySource = "gitlab"
	SourceHR     IdentitySource = "hr"
	// SourceDemo marks simulated records for providers that are not actually
	// connected. The Provider field names the provider being simulated.
	SourceDemo IdentitySource = "demo"
)

// CloudSources are the IAM providers treated as "cloud" for cross-cloud
// correlation rules (role drift, zero trust, cross-cloud admin).
var CloudSources = map[string]bool{
	"aws":   true,
	"azure": true,
	"gcp":   true,
}

type PrivilegeTier string

const (
	TierLow      PrivilegeTier = "low"
	TierMedium   PrivilegeTier = "medium"
	TierHigh     PrivilegeTier = "high"
	TierCritical PrivilegeTier = "critical"
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SeverityRank orders severities for sorting, critical first.
func SeverityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 2
}

// UnifiedIdentity is the canonical representation of one account at one
// provider. Records are produced by connector normalization and are read-only
// inside the analysis engines except for the derived fields, which are
// recomputed on every analysis pass and never authoritative.
type UnifiedIdentity struct {
	ID     string         `json:"id" db:"id"`
	Email  string         `json:"email" db:"email"`
	Source IdentitySource `json:"source" db:"source"`
	// Provider names the simulated provider for demo records; empty otherwise.
	Provider        string     `json:"provider,omitempty" db:"provider"`
	Roles           []string   `json:"roles"`
	MFAEnabled      bool       `json:"mfaEnabled" db:"mfa_enabled"`
	LastLogin       *time.Time `json:"lastLogin,omitempty" db:"last_login"`
	IsActive        bool       `json:"isActive" db:"is_active"`
	RiskScore       float64    `json:"riskScore" db:"risk_score"`
	LinkedAccounts  []string   `json:"linkedAccounts,omitempty"`
	GroupMembership []string   `json:"groupMembership,omitempty"`

	// Derived fields, recomputed per analysis pass.
	PrivilegeTier   PrivilegeTier `json:"privilegeTier" db:"privilege_tier"`
	ExposureLevel   float64       `json:"exposureLevel" db:"exposure_level"`
	AttackPathCount int           `json:"attackPathCount" db:"attack_path_count"`
	BlastRadius     int           `json:"blastRadius" db:"blast_radius"`
	CloudAccounts   []string      `json:"cloudAccounts,omitempty"`
}

// EffectiveSource resolves demo records to the provider they simulate.
func (u *UnifiedIdentity) EffectiveSource() string {
	if u.Source == SourceDemo && u.Provider != "" {
		return u.Provider
	}
	return string(u.Source)
}

// RiskLevel buckets a 0-100 risk score for the flat risk engine.
func RiskLevel(score float64) string {
	switch {
	case score < 20:
		return "Low"
	case score < 50:
		return "Medium"
	case score < 80:
		return "High"
	default:
		return "Critical"
	}
}

// RiskProfile is the flat risk engine's output for one identity.
type RiskProfile struct {
	IdentityID     string   `json:"identityId"`
	TotalRiskScore float64  `json:"totalRiskScore"`
	RiskLevel      string   `json:"riskLevel"`
	Factors        []string `json:"factors"`
}

// EnhancedProfile is the graph-enhanced analysis result for one identity.
// Identity points into the analyzed snapshot with its derived fields filled.
type EnhancedProfile struct {
	Identity      *UnifiedIdentity  `json:"identity"`
	BlastRadius   BlastRadiusReport `json:"blastRadius"`
	AttackPaths   [][]PathHop       `json:"attackPaths"`
	PrivilegeTier PrivilegeTier     `json:"privilegeTier"`
	ExposureLevel float64           `json:"exposureLevel"`
}

// RiskProfileReport is the flat risk profile extended with graph context.
type RiskProfileReport struct {
	RiskProfile
	EscalationPathsCount int  `json:"escalationPathsCount"`
	BlastRadiusScore     int  `json:"blastRadiusScore"`
	AnomalyFlag          bool `json:"anomalyFlag"`
}

// ConnectedIdentity is one identity reached by a bounded graph traversal.
type ConnectedIdentity struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Source    string  `json:"source"`
	Depth     int     `json:"depth"`
	Via       string  `json:"via"`
	RiskScore float64 `json:"riskScore"`
}

// PathHop is one step on an attack path.
type PathHop struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	Relationship string  `json:"relationship"`
	Weight       float64 `json:"weight"`
}

// BlastRadiusReport estimates the fallout of compromising one identity.
type BlastRadiusReport struct {
	IdentityID         string   `json:"identityId"`
	BlastRadius        int      `json:"blastRadius"`
	AffectedIdentities int      `json:"affectedIdentities"`
	AffectedSources    []string `json:"affectedSources"`
	AdminReachable     int      `json:"adminReachable"`
	CrossCloudSpread   int      `json:"crossCloudSpread"`
}

// LateralEndpoint identifies one end of a lateral movement path.
type LateralEndpoint struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Email  string `json:"email"`
}

// LateralPath is a candidate pivot from one identity to another.
type LateralPath struct {
	From     LateralEndpoint `json:"from"`
	To       LateralEndpoint `json:"to"`
	Hops     int             `json:"hops"`
	Via      string          `json:"via"`
	Risk     float64         `json:"risk"`
	Critical bool            `json:"critical"`
}

// GlobalRiskScore is the organization-wide weighted risk blend.
type GlobalRiskScore struct {
	Score     float64           `json:"score"`
	Level     string            `json:"level"`
	Breakdown GlobalRiskFactors `json:"breakdown"`
}

type GlobalRiskFactors struct {
	AvgUserRisk     float64 `json:"avgUserRisk"`
	MFACoverage     float64 `json:"mfaCoverage"`
	PrivilegedRatio float64 `json:"privilegedRatio"`
	CriticalUsers   int     `json:"criticalUsers"`
}

// BreachProbability estimates how likely a compromise chain reaches admin.
type BreachProbability struct {
	Probability   float64 `json:"probability"`
	TotalPaths    int     `json:"totalPaths"`
	HighRiskPaths int     `json:"highRiskPaths"`
	MFAGapFactor  float64 `json:"mfaGapFactor"`
}

// MFACoverage is the MFA enforcement breakdown across providers.
type MFACoverage struct {
	Coverage        float64            `json:"coverage"`
	TotalWithMFA    int                `json:"totalWithMFA"`
	TotalWithoutMFA int                `json:"totalWithoutMFA"`
	ByProvider      map[string]float64 `json:"byProvider"`
}

// Violation is one compliance policy breach for one identity.
type Violation struct {
	Policy      string   `json:"policy"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation"`
	IdentityID  string   `json:"identityId,omitempty"`
	Email       string   `json:"email,omitempty"`
}

// ComplianceResult is the per-identity compliance evaluation.
type ComplianceResult struct {
	IdentityID      string      `json:"identityId"`
	Email           string      `json:"email"`
	ComplianceScore int         `json:"complianceScore"`
	Violations      []Violation `json:"violations"`
	PassedPolicies  []string    `json:"passedPolicies"`
	TotalChecks     int         `json:"totalChecks"`
	ViolationsCount int         `json:"violationsCount"`
}

// PolicyStats aggregates violations of one policy across the organization.
type PolicyStats struct {
	Name               string `json:"name"`
	Category           string `json:"category"`
	Description        string `json:"description"`
	Violations         int    `json:"violations"`
	IdentitiesAffected int    `json:"identitiesAffected"`
}

// ComplianceReport is the organization-wide compliance rollup.
type ComplianceReport struct {
	ComplianceScore   int                    `json:"complianceScore"`
	TotalIdentities   int                    `json:"totalIdentities"`
	TotalViolations   int                    `json:"totalViolations"`
	SeverityBreakdown map[Severity]int       `json:"severityBreakdown"`
	PolicyStats       map[string]PolicyStats `json:"policyStats"`
	CategoryScores    map[string]int         `json:"categoryScores"`
	TopViolations     []Violation            `json:"topViolations"`
	IdentityResults   []ComplianceResult     `json:"identityResults"`
}

// Priority ranks remediation actions.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// PriorityRank orders priorities for sorting, critical first.
func PriorityRank(p Priority) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// RemediationAction is one prioritized, templated fix for one identity.
type RemediationAction struct {
	Type                    string   `json:"type"`
	Title                   string   `json:"title"`
	Description             string   `json:"description"`
	Category                string   `json:"category"`
	AutoRemediationPossible bool     `json:"autoRemediationPossible"`
	EstimatedRiskReduction  int      `json:"estimatedRiskReduction"`
	IdentityID              string   `json:"identityId"`
	Email                   string   `json:"email"`
	Provider                string   `json:"provider"`
	Priority                Priority `json:"priority"`
	Details                 string   `json:"details"`
	RolesToReview           []string `json:"rolesToReview,omitempty"`
	DaysInactive            int      `json:"daysInactive,omitempty"`
}

// RemediationReport is the organization-wide remediation rollup.
type RemediationReport struct {
	TotalActions                int                 `json:"totalActions"`
	IdentitiesAffected          int                 `json:"identitiesAffected"`
	PriorityBreakdown           map[Priority]int    `json:"priorityBreakdown"`
	CategoryBreakdown           map[string]int      `json:"categoryBreakdown"`
	AutoRemediableCount         int                 `json:"autoRemediableCount"`
	ManualCount                 int                 `json:"manualCount"`
	EstimatedTotalRiskReduction int                 `json:"estimatedTotalRiskReduction"`
	Actions                     []RemediationAction `json:"actions"`
}

// GraphNodeExport is the visualization shape for one graph node.
type GraphNodeExport struct {
	ID            string        `json:"id"`
	Email         string        `json:"email,omitempty"`
	Source        string        `json:"source,omitempty"`
	Kind          string        `json:"kind"`
	RiskScore     float64       `json:"riskScore"`
	Roles         []string      `json:"roles,omitempty"`
	MFAEnabled    bool          `json:"mfaEnabled"`
	PrivilegeTier PrivilegeTier `json:"privilegeTier,omitempty"`
}

// GraphEdgeExport is one deduplicated undirected edge for visualization.
type GraphEdgeExport struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Relationship string  `json:"relationship"`
	Weight       float64 `json:"weight"`
}

type GraphExport struct {
	Nodes []GraphNodeExport `json:"nodes"`
	Edges []GraphEdgeExport `json:"edges"`
}

// Summary is the dashboard headline report.
type Summary struct {
	TotalIdentities      int               `json:"totalIdentities"`
	RiskyUsers           int               `json:"riskyUsers"`
	CriticalAlerts       int               `json:"criticalAlerts"`
	OrphanedAccounts     int               `json:"orphanedAccounts"`
	MFAFailures          int               `json:"mfaFailures"`
	PrivilegeEscalations int               `json:"privilegeEscalations"`
	AdminCount           int               `json:"adminCount"`
	PrivilegedRatio      float64           `json:"privilegedRatio"`
	LastSync             time.Time         `json:"lastSync"`
	GlobalRiskScore      GlobalRiskScore   `json:"globalRiskScore"`
	BreachProbability    BreachProbability `json:"breachProbability"`
	MFACoverage          MFACoverage       `json:"mfaCoverage"`
}

// IdentityDetail is the single-identity drill-down served by the API.
type IdentityDetail struct {
	Identity            UnifiedIdentity     `json:"identity"`
	Source              string              `json:"source"`
	RiskFactors         []string            `json:"riskFactors"`
	RiskLevel           string              `json:"riskLevel"`
	BlastRadius         BlastRadiusReport   `json:"blastRadiusData"`
	AttackPaths         [][]PathHop         `json:"attackPaths"`
	LateralMovement     []LateralPath       `json:"lateralMovement"`
	ConnectedIdentities []ConnectedIdentity `json:"connectedIdentities"`
	Remediations        []RemediationAction `json:"remediations"`
	Compliance          ComplianceResult    `json:"compliance"`
}

// SyncRecord is one append-only sync history entry used for trend charts.
type SyncRecord struct {
	Provider        string    `json:"provider" db:"provider"`
	Timestamp       time.Time `json:"timestamp" db:"timestamp"`
	TotalSynced     int       `json:"totalSynced" db:"total_synced"`
	PrivilegedCount int       `json:"privilegedCount" db:"privileged_count"`
	RiskScores      []float64 `json:"riskScores"`
	AvgRisk         float64   `json:"avgRisk" db:"avg_risk"`
}

// TrendPoint is one point on the historical risk-trend chart.
type TrendPoint struct {
	Date            string  `json:"date"`
	Score           float64 `json:"score"`
	MFACoverage     float64 `json:"mfaCoverage"`
	CriticalCount   int     `json:"criticalCount"`
	TotalIdentities int     `json:"totalIdentities"`
	Provider        string  `json:"provider"`
}

// DashboardRow is one identity row in the dashboard table.
type DashboardRow struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Source        string        `json:"source"`
	Roles         []string      `json:"roles"`
	RiskScore     float64       `json:"riskScore"`
	PrivilegeTier PrivilegeTier `json:"privilegeTier"`
	MFAEnabled    bool          `json:"mfaEnabled"`
	IsActive      bool          `json:"isActive"`
}

// DashboardAggregation feeds the dashboard charts in one response.
type DashboardAggregation struct {
	TotalIdentities      int            `json:"totalIdentities"`
	PrivilegedCount      int            `json:"privilegedCount"`
	NonPrivilegedCount   int            `json:"nonPrivilegedCount"`
	HighRiskCount        int            `json:"highRiskCount"`
	AdminCount           int            `json:"adminCount"`
	StandardCount        int            `json:"standardCount"`
	IAMOwners            int            `json:"iamOwners"`
	RepoAdmins           int            `json:"repoAdmins"`
	ProviderDistribution map[string]int `json:"providerDistribution"`
	RiskDistribution     map[string]int `json:"riskDistribution"`
	SyncHistory          []SyncRecord   `json:"syncHistory"`
	IdentityList         []DashboardRow `json:"identityList"`
}

// SyncJob is a queued provider synchronization task.
type SyncJob struct {
	ID        string            `json:"id"`
	Provider  string            `json:"provider"`
	Status    string            `json:"status"`
	Priority  int               `json:"priority"`
	Retries   int               `json:"retries"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// WorkerStatus reports one sync worker's state.
type WorkerStatus struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	CurrentJob   string    `json:"current_job,omitempty"`
	JobsComplete int       `json:"jobs_complete"`
	LastActive   time.Time `json:"last_active"`
}
