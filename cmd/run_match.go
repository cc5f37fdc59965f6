package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runMatchCmd = &cobra.Command{
	Use:   "run-match",
	Short: "Execute the external scoring SQL that fills the matches table",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("run-match"); err != nil {
			return err
		}
		path, _ := cmd.Flags().GetString("sql")
		script, err := os.ReadFile(path)
		if err != nil {
			return eris.Wrapf(err, "run-match: read %s", path)
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.ExecScript(ctx, string(script)); err != nil {
			return err
		}
		zap.L().Info("scoring script executed", zap.String("path", path))
		return nil
	},
}

func init() {
	runMatchCmd.Flags().String("sql", "match.sql", "path to the scoring SQL script")
	rootCmd.AddCommand(runMatchCmd)
}
