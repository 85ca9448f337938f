package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/beaconsec/identra/internal/core"
	"github.com/beaconsec/identra/pkg/identity/analyzer"
	"github.com/beaconsec/identra/pkg/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run risk analysis against stored identities",
	Long: `Run the full analysis suite over the stored identity snapshot and
print a terminal report: headline summary, riskiest identities,
compliance posture, and top remediation actions.

Example:
  identra analyze
  identra analyze --identity okta-00u1abcd`,
	RunE: runAnalyze,
}

var analyzeIdentityID string

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVar(&analyzeIdentityID, "identity", "", "Drill into one identity by id")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	identities, _, err := store.ListIdentities(ctx, core.IdentityFilter{Limit: 1000})
	if err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	if len(identities) == 0 {
		color.Yellow("No identities in the store. Run 'identra sync' first.\n")
		return nil
	}

	a := analyzer.New(identities)

	if analyzeIdentityID != "" {
		return printIdentityDetail(a, analyzeIdentityID)
	}

	printSummary(a.Summary())
	printTopRisks(a.Identities())
	printCompliance(a.GlobalCompliance())
	printRemediations(a.Remediations())
	return nil
}

func printSummary(s types.Summary) {
	color.Cyan("\n═══ Identity Risk Summary ═══\n")
	fmt.Printf("  Identities:            %d\n", s.TotalIdentities)
	fmt.Printf("  Risky users (≥50):     %d\n", s.RiskyUsers)
	fmt.Printf("  Critical alerts (≥80): %d\n", s.CriticalAlerts)
	fmt.Printf("  Orphaned accounts:     %d\n", s.OrphanedAccounts)
	fmt.Printf("  MFA failures:          %d\n", s.MFAFailures)
	fmt.Printf("  Admin accounts:        %d (%.1f%%)\n", s.AdminCount, s.PrivilegedRatio)

	levelColor(s.GlobalRiskScore.Level)("  Global risk:           %.1f (%s)\n",
		s.GlobalRiskScore.Score, s.GlobalRiskScore.Level)
	fmt.Printf("  Breach probability:    %.1f%%\n", s.BreachProbability.Probability)
	fmt.Printf("  MFA coverage:          %.1f%%\n", s.MFACoverage.Coverage)
}

func printTopRisks(identities []*types.UnifiedIdentity) {
	sorted := append([]*types.UnifiedIdentity(nil), identities...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RiskScore > sorted[j].RiskScore })
	if len(sorted) > 10 {
		sorted = sorted[:10]
	}

	color.Cyan("\n═══ Riskiest Identities ═══\n")
	for _, id := range sorted {
		levelColor(types.RiskLevel(id.RiskScore))("  %5.1f  %-10s %-35s tier=%s blast=%d\n",
			id.RiskScore, id.EffectiveSource(), id.Email, id.PrivilegeTier, id.BlastRadius)
	}
}

func printCompliance(report types.ComplianceReport) {
	color.Cyan("\n═══ Compliance ═══\n")
	fmt.Printf("  Score:      %d/100\n", report.ComplianceScore)
	fmt.Printf("  Violations: %d", report.TotalViolations)
	if n := report.SeverityBreakdown[types.SeverityCritical]; n > 0 {
		color.Red(" (%d critical)", n)
	}
	fmt.Println()

	for name, stats := range report.PolicyStats {
		if stats.Violations > 0 {
			fmt.Printf("  - %-25s %d violations, %d identities\n", name, stats.Violations, stats.IdentitiesAffected)
		}
	}
}

func printRemediations(report types.RemediationReport) {
	color.Cyan("\n═══ Remediation ═══\n")
	fmt.Printf("  Actions: %d across %d identities (%d auto-remediable)\n",
		report.TotalActions, report.IdentitiesAffected, report.AutoRemediableCount)
	fmt.Printf("  Estimated risk reduction: %d\n", report.EstimatedTotalRiskReduction)

	limit := 10
	if len(report.Actions) < limit {
		limit = len(report.Actions)
	}
	for _, action := range report.Actions[:limit] {
		priorityColor(action.Priority)("  [%s] %s — %s\n", action.Priority, action.Email, action.Title)
	}
}

func printIdentityDetail(a *analyzer.Analyzer, identityID string) error {
	detail, err := a.Detail(identityID)
	if err != nil {
		return fmt.Errorf("analysis failed for %s: %w", identityID, err)
	}

	id := detail.Identity
	color.Cyan("\n═══ %s (%s) ═══\n", id.Email, detail.Source)
	levelColor(detail.RiskLevel)("  Risk: %.1f (%s)  tier=%s  exposure=%.0f  blast=%d\n",
		id.RiskScore, detail.RiskLevel, id.PrivilegeTier, id.ExposureLevel, detail.BlastRadius.BlastRadius)
	fmt.Printf("  MFA: %v  Active: %v  Roles: %v\n", id.MFAEnabled, id.IsActive, id.Roles)

	if len(detail.RiskFactors) > 0 {
		color.Cyan("\n  Risk factors:\n")
		for _, f := range detail.RiskFactors {
			fmt.Printf("    • %s\n", f)
		}
	}

	if len(detail.AttackPaths) > 0 {
		color.Cyan("\n  Attack paths (%d):\n", len(detail.AttackPaths))
		for _, path := range detail.AttackPaths {
			for i, hop := range path {
				if i > 0 {
					fmt.Print(" → ")
				} else {
					fmt.Print("    ")
				}
				fmt.Print(hop.Email)
			}
			fmt.Println()
		}
	}

	if len(detail.Remediations) > 0 {
		color.Cyan("\n  Remediations:\n")
		for _, action := range detail.Remediations {
			priorityColor(action.Priority)("    [%s] %s\n", action.Priority, action.Title)
		}
	}

	fmt.Printf("\n  Compliance score: %d/100 (%d violations)\n",
		detail.Compliance.ComplianceScore, detail.Compliance.ViolationsCount)
	return nil
}

func levelColor(level string) func(format string, a ...interface{}) {
	switch level {
	case "Critical":
		return color.Red
	case "High":
		return color.Yellow
	case "Medium":
		return color.White
	default:
		return color.Green
	}
}

func priorityColor(p types.Priority) func(format string, a ...interface{}) {
	switch p {
	case types.PriorityCritical:
		return color.Red
	case types.PriorityHigh:
		return color.Yellow
	default:
		return color.White
	}
}
