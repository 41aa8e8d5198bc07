package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cuemby/ebspin/pkg/config"
	"github.com/cuemby/ebspin/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the root command and returns the process exit code
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "ebspin",
	Short: "ebspin - Pin an EBS volume to an identity across instances and zones",
	Long: `ebspin keeps one EBS volume per identity (a UUID tag) and attaches it
to the instance it runs on.

On every boot it finds the latest volume for the identity. If none exists it
creates one, from the latest snapshot when there is one. If the volume sits
in another availability zone it is copied over through a snapshot. Once the
volume is attached, superseded volumes and snapshots are deleted.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		initLogging(cmd, cfg)
		cmd.SetContext(context.WithValue(cmd.Context(), configKey{}, cfg))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "ebspin version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"ebspin version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default "+config.DefaultPath+")")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(versionCmd)
}

func initLogging(cmd *cobra.Command, cfg *config.Config) {
	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Logging.Level),
		JSONOutput: cfg.Logging.Format == "json",
		Output:     cmd.ErrOrStderr(),
	})
}
