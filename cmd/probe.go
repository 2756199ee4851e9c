package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/apiprobe/apiprobe/internal/config"
	"github.com/apiprobe/apiprobe/internal/observability"
	"github.com/apiprobe/apiprobe/internal/pipeline"
)

// newProbeCmd creates and configures the `probe` command.
func newProbeCmd() *cobra.Command {
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Runs documented operations against a live API and records the behavior",
		Long: `probe loads the operations file produced by a documentation parser,
resolves authentication from the credentials file, executes generated test
payloads against the base URL, and writes classifications, results and
discovered patterns to the output directory.

Operations classified as affecting production data are skipped unless
--enable-production-ops is set.`,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so command-line flags override
			// config file and environment values with the right precedence.
			if err := viper.BindPFlag("tester.enable_production_ops", cmd.Flags().Lookup("enable-production-ops")); err != nil {
				return err
			}
			return viper.BindPFlag("llm.enabled", cmd.Flags().Lookup("ai"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			cfg.Probe = config.ProbeConfig{
				OperationsFile:  viper.GetString("probe.operations_file"),
				CredentialsFile: viper.GetString("probe.credentials_file"),
				BaseURL:         viper.GetString("probe.base_url"),
				TokenURL:        viper.GetString("probe.token_url"),
				AuthType:        viper.GetString("probe.auth_type"),
				OutputDir:       viper.GetString("probe.output_dir"),
			}
			if cfg.Probe.OperationsFile == "" {
				return fmt.Errorf("--operations is required")
			}
			if cfg.Probe.BaseURL == "" {
				return fmt.Errorf("--base-url is required")
			}

			summary, err := pipeline.NewRunner(cfg, logger).Run(ctx)
			if err != nil {
				return err
			}

			logger.Info("Probe finished",
				zap.String("run_id", summary.RunID),
				zap.Int("operations", summary.OperationCount),
				zap.Int("results", summary.ResultCount),
				zap.Int("patterns", summary.PatternCount),
				zap.String("output_dir", summary.OutputDir),
			)

			fmt.Fprintf(cmd.OutOrStdout(),
				"Run %s complete: %d operations, %d results, %d patterns (skipped %d). Artifacts in %s\n",
				summary.RunID, summary.OperationCount, summary.ResultCount,
				summary.PatternCount, len(summary.SkippedOps), summary.OutputDir)
			return nil
		},
	}

	flags := probeCmd.Flags()
	flags.String("operations", "", "path to the operations JSON file (required)")
	flags.String("credentials", "", "path to the credentials JSON file")
	flags.String("base-url", "", "base URL of the API under test (required)")
	flags.String("token-url", "", "OAuth token endpoint (auto-detected from the operations when omitted)")
	flags.String("auth-type", "", "authentication type: bearer, basic, api_key, oauth, soap_security (inferred when omitted)")
	flags.StringP("output", "o", "output", "directory for run artifacts")
	flags.Bool("enable-production-ops", false, "execute operations classified as production (dangerous)")
	flags.Bool("ai", true, "use the model backend for classification and pattern discovery")

	// The probe.* keys are flag-only; map them explicitly.
	viper.BindPFlag("probe.operations_file", flags.Lookup("operations"))
	viper.BindPFlag("probe.credentials_file", flags.Lookup("credentials"))
	viper.BindPFlag("probe.base_url", flags.Lookup("base-url"))
	viper.BindPFlag("probe.token_url", flags.Lookup("token-url"))
	viper.BindPFlag("probe.auth_type", flags.Lookup("auth-type"))
	viper.BindPFlag("probe.output_dir", flags.Lookup("output"))

	return probeCmd
}
