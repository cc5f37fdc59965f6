package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/incentive-match/internal/model"
)

var auditMatchesCmd = &cobra.Command{
	Use:   "audit-matches",
	Short: "List matches that do not pass the eligibility rules",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("audit-matches"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		audits, err := st.NonCompliantMatches(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "audit-matches")
		}
		formatAudits(os.Stdout, audits)
		return nil
	},
}

func formatAudits(w io.Writer, audits []model.MatchAudit) {
	if len(audits) == 0 {
		fmt.Fprintln(w, "All matches pass the eligibility rules.")
		return
	}
	for _, a := range audits {
		fmt.Fprintf(w, "Incentivo %d — %s\n", a.IncentiveID, a.IncentiveTitle)
		fmt.Fprintf(w, "  Empresa %d — %s\n", a.CompanyID, a.CompanyName)
		fmt.Fprintf(w, "  score=%.3f rank=%d rule_pass=%s\n", a.Score, a.Rank, rulePassLabel(a.RulePass))
		if a.Explanation != nil && *a.Explanation != "" {
			fmt.Fprintf(w, "  explicação: %s\n", *a.Explanation)
		}
		fmt.Fprintln(w, "-")
	}
}

func rulePassLabel(v *bool) string {
	if v == nil {
		return "null"
	}
	return fmt.Sprintf("%t", *v)
}

func init() {
	auditMatchesCmd.Flags().Int("limit", 20, "max matches to list")
	rootCmd.AddCommand(auditMatchesCmd)
}
