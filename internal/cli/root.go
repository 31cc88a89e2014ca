package cli

import (
	"github.com/spf13/cobra"

	"github.com/convergent-io/convergent/internal/logging"
)

var (
	flagApp      string
	flagStage    string
	flagBackend  string
	flagStateDir string
	flagDBPath   string
	flagLogLevel string

	flagS3Bucket    string
	flagS3Prefix    string
	flagS3Region    string
	flagS3LockTable string
	flagS3Profile   string
	flagS3Encrypt   bool
)

var rootCmd = &cobra.Command{
	Use:   "convergent",
	Short: "Declarative resource lifecycle engine",
	Long: `Convergent reconciles declared resources against a durable state store.

Programs declare resources by importing the engine library; this CLI operates
on the resulting state: inspecting records, removing them, and destroying
managed resources.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(flagLogLevel)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagApp, "app", envOr("CONVERGENT_APP", "convergent"), "application name (physical name prefix)")
	pf.StringVar(&flagStage, "stage", envOr("CONVERGENT_STAGE", "dev"), "deployment stage")
	pf.StringVar(&flagBackend, "backend", envOr("CONVERGENT_BACKEND", "local"), "state backend: local, sqlite, or s3")
	pf.StringVar(&flagStateDir, "state-dir", ".convergent/state", "directory for the local file backend")
	pf.StringVar(&flagDBPath, "db", ".convergent/state.db", "database path for the sqlite backend")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	pf.StringVar(&flagS3Bucket, "s3-bucket", envOr("CONVERGENT_S3_BUCKET", ""), "bucket for the s3 backend")
	pf.StringVar(&flagS3Prefix, "s3-prefix", "", "object key prefix for the s3 backend")
	pf.StringVar(&flagS3Region, "s3-region", "", "AWS region for the s3 backend")
	pf.StringVar(&flagS3LockTable, "s3-lock-table", "", "DynamoDB table for the s3 backend apply lock")
	pf.StringVar(&flagS3Profile, "s3-profile", "", "AWS profile for the s3 backend")
	pf.BoolVar(&flagS3Encrypt, "s3-encrypt", false, "enable server-side encryption on s3 state objects")

	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
