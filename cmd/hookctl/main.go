// Command hookctl is an operator CLI for the analytics service behind the
// dashboard: it loads analytics, probes upstream health and manages the
// stored auth token.
//
// Usage:
//
//	hookctl analytics --start-date 2024-01-01 --end-date 2024-06-30
//	hookctl analytics --section mrr --plan-id pro
//	hookctl health
//	hookctl sanitize "<b>text</b>"
//	hookctl token set <token>
//	hookctl loadtest --url http://localhost:8080 --duration 30s
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/internal/analytics/client"
	"github.com/pabbly/hookdash/internal/analytics/validate"
	"github.com/pabbly/hookdash/internal/credentials"
	"github.com/pabbly/hookdash/internal/probe"
	"github.com/pabbly/hookdash/pkg/config"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/resilience"
)

const defaultTokenFile = ".hookdash-token.json"

type options struct {
	configPath string
	token      string
	tokenFile  string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "hookctl",
		Short:         "Operate the Pabbly Hook analytics API",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			logger.SetupWriter(cmd.ErrOrStderr(), opts.logLevel, "text")
			return nil
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.token, "token", "", "bearer token (default $HOOK_AUTH_TOKEN, then the token file)")
	root.PersistentFlags().StringVar(&opts.tokenFile, "token-file", "", "token store path (default api.tokenFile or "+defaultTokenFile+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newAnalyticsCmd(opts),
		newHealthCmd(opts),
		newSanitizeCmd(),
		newTokenCmd(opts),
		newLoadTestCmd(opts),
	)
	return root
}

func (o *options) load() (*config.Config, error) {
	return config.Load(o.configPath)
}

func (o *options) tokenPath(cfg *config.Config) string {
	switch {
	case o.tokenFile != "":
		return o.tokenFile
	case cfg.API.TokenFile != "":
		return cfg.API.TokenFile
	}
	return defaultTokenFile
}

// tokens resolves the flag, then HOOK_AUTH_TOKEN, then the token file.
func (o *options) tokens(cfg *config.Config) credentials.Provider {
	return credentials.Chain(
		credentials.Static(o.token),
		credentials.Static(os.Getenv("HOOK_AUTH_TOKEN")),
		credentials.FileStore(o.tokenPath(cfg)),
	)
}

func newAnalyticsCmd(opts *options) *cobra.Command {
	var startDate, endDate, planID, productID, section string
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Fetch analytics and print them as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			f := analytics.Filters{}.
				Set("startDate", startDate).
				Set("endDate", endDate).
				Set("planId", planID).
				Set("productId", productID)
			if startDate != "" && endDate != "" {
				if r := validate.ValidateDateRange(startDate, endDate); !r.Valid {
					return fmt.Errorf("invalid date range: %v", r.Errors)
				}
			}

			c := client.New(client.Config{
				BaseURL: cfg.API.AnalyticsURL,
				Timeout: cfg.API.RequestTimeout,
				Retry: resilience.RetryConfig{
					MaxAttempts:  cfg.API.Retry.MaxAttempts,
					InitialDelay: cfg.API.Retry.InitialDelay,
					MaxDelay:     cfg.API.Retry.MaxDelay,
				},
			}, client.WithTokenProvider(opts.tokens(cfg)), client.WithTracing(cfg.Tracing.Enabled))

			if section != "" {
				raw, err := c.GetSection(cmd.Context(), section, f)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), raw)
			}

			res, err := c.GetAllAnalytics(cmd.Context(), f)
			if err != nil {
				return err
			}
			warnings, err := validate.ValidateResult(res)
			if err != nil {
				return err
			}
			for _, w := range warnings {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&startDate, "start-date", "", "range start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&endDate, "end-date", "", "range end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&planID, "plan-id", "", "filter by plan")
	cmd.Flags().StringVar(&productID, "product-id", "", "filter by product")
	cmd.Flags().StringVar(&section, "section", "", "fetch a single section: summary, mrr, churn, plans, products or customers")
	return cmd
}

func newHealthCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe the backend and the analytics service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			p := probe.New(probe.Config{
				BackendURL:   cfg.API.BackendURL,
				AnalyticsURL: cfg.API.AnalyticsURL,
				APIKey:       cfg.API.APIKey,
			})
			return printJSON(cmd.OutOrStdout(), p.All(cmd.Context()))
		},
	}
}

func newSanitizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <text>",
		Short: "Print text as the dashboard would store it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), validate.SanitizeString(args[0]))
			return err
		},
	}
}

func newTokenCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage the stored auth token",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set <token>",
			Short: "Store a token for later commands",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				return credentials.SaveToken(opts.tokenPath(cfg), args[0])
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove the stored token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				return credentials.SaveToken(opts.tokenPath(cfg), "")
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
