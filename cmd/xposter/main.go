package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"xposter/internal/app"
)

var (
	dataDirFlag string
	configFlag  string
	pollFlag    bool
	limitFlag   int
)

var rootCmd = &cobra.Command{
	Use:   "xposter",
	Short: "Schedule and publish X posts from a file queue",
	Long: `xposter watches a queue directory of post descriptors, publishes each post
at its scheduled time and moves it to sent/ or failed/ with a result record.

Data dir layout:
  queue/          pending jobs
  sent/ failed/   finalized jobs plus <name>.result.json
  tokens.json     OAuth2 tokens (xposter auth login)
  schedule.json   pending publish times
  log.jsonl       event log`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "data directory (default $XP_DATA_DIR or ./data)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default <data-dir>/config.yaml or config.json)")

	watchCmd.Flags().BoolVar(&pollFlag, "poll", false, "rescan on a fixed interval instead of using filesystem notifications")
	historyCmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "number of attempts to show")

	authCmd.AddCommand(authLoginCmd, authStatusCmd)
	rootCmd.AddCommand(initCmd, validateCmd, dryRunCmd, runCmd, watchCmd, authCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openApp(quiet bool) (*app.App, error) {
	return app.NewApp(app.Options{DataDir: dataDirFlag, ConfigPath: configFlag, Quiet: quiet})
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the data directory layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		p, err := app.Init(dataDirFlag)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized %s\n  queue:  %s\n  sent:   %s\n  failed: %s\n", p.Root, p.Queue, p.Sent, p.Failed)
		return nil
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check every queue entry; exit non-zero on errors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Validate(cmd.Context(), cmd.OutOrStdout())
	},
}

var dryRunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Show what would be published, and where each job would land",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.DryRun(cmd.Context(), cmd.OutOrStdout())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one scan cycle: publish due jobs, schedule the rest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		a, err := openApp(false)
		if err != nil {
			return err
		}
		defer a.Close()
		sum, err := a.RunOnce(ctx)
		fmt.Fprintln(cmd.OutOrStdout(), sum)
		return err
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the queue and publish jobs as they become due",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		a, err := openApp(false)
		if err != nil {
			return err
		}
		if err := a.Start(ctx, pollFlag); err != nil {
			_ = a.Close()
			return err
		}

		reason := app.StopSignal
		select {
		case <-ctx.Done():
		case <-a.Done():
			reason = app.StopFatalError
		}
		fatal := a.Err()

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := a.Stop(stopCtx, reason); err != nil && fatal == nil {
			return err
		}
		return fatal
	},
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage OAuth2 tokens",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize with PKCE and store tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Login(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored token state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		st, err := a.AuthStatus()
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if !st.Authenticated {
			fmt.Fprintln(w, "not authenticated; run `xposter auth login`")
			return nil
		}
		expires := "unknown"
		if !st.ExpiresAt.IsZero() {
			expires = st.ExpiresAt.Local().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "authenticated\n  expires: %s (needs refresh: %v)\n  refresh token: %v\n  scope: %s\n  api: %s\n",
			expires, st.Expired, st.HasRefresh, st.Scope, st.BaseURL)
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent publish attempts (requires storage)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(true)
		if err != nil {
			return err
		}
		defer a.Close()
		attempts, err := a.History(cmd.Context(), limitFlag)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		for _, at := range attempts {
			line := fmt.Sprintf("%s  %-8s %s", at.At.Local().Format("2006-01-02 15:04:05"), at.Status, at.Source)
			if at.TweetID != "" {
				line += "  tweet=" + at.TweetID
			}
			if at.Error != "" {
				line += "  err=" + at.Error
			}
			fmt.Fprintln(w, line)
		}
		return nil
	},
}
