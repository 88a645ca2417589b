// phishscan is an HTTP service that scores URLs, QR code images, and
// emails for phishing risk.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/infosmartsaveusa-bit/pdsss/internal/ai"
	"github.com/infosmartsaveusa-bit/pdsss/internal/browser"
	"github.com/infosmartsaveusa-bit/pdsss/internal/config"
	"github.com/infosmartsaveusa-bit/pdsss/internal/domaininfo"
	"github.com/infosmartsaveusa-bit/pdsss/internal/email"
	"github.com/infosmartsaveusa-bit/pdsss/internal/intel"
	"github.com/infosmartsaveusa-bit/pdsss/internal/logging"
	"github.com/infosmartsaveusa-bit/pdsss/internal/qr"
	"github.com/infosmartsaveusa-bit/pdsss/internal/redirect"
	"github.com/infosmartsaveusa-bit/pdsss/internal/scanner"
	"github.com/infosmartsaveusa-bit/pdsss/internal/server"
	"github.com/infosmartsaveusa-bit/pdsss/internal/store"
)

var (
	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "phishscan",
	Short: "Phishing detection service for URLs, QR codes, and emails",
	Long: `phishscan scores URLs, QR code images, and emails for phishing risk.

It combines static URL heuristics, OpenPhish and Google Safe Browsing
lookups, whois domain age, TLS certificate inspection, redirect chain
tracing, and headless-browser page analysis into a single risk verdict.

Run without arguments to start the HTTP server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP scan API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Scan a single URL and print the verdict as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd.Context(), args[0])
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s\n", cfg.Name, cfg.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "phishscan.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, scanCmd, versionCmd)
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history, err := store.Open(cfg.History.DatabasePath, logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer history.Close()

	feed := intel.NewFeed(cfg.Intel, logger)
	if err := feed.Load(ctx); err != nil {
		logger.Warn("initial blocklist load failed", zap.Error(err))
	}
	feed.Start(ctx)
	defer feed.Stop()

	sb := intel.NewSafeBrowsing(cfg.Intel.SafeBrowsingAPIKey, logger)
	domains := domaininfo.NewProvider(cfg.Scanner.CheckTimeoutDuration())
	urls := scanner.New(cfg.Scanner, sb, feed, domains, logger)
	follower := redirect.NewFollower(cfg.Scanner.MaxRedirects, cfg.Scanner.CheckTimeoutDuration())

	mgr := browser.NewManager(cfg.Browser, logger)
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	deps := server.Deps{
		URLs:      urls,
		QR:        qr.NewService(urls, logger),
		Email:     email.NewAnalyzer(urls, follower, domains, cfg.Scanner.MaxEmailURLs, logger),
		Browser:   mgr,
		Redirects: follower,
		History:   history,
	}

	assessor, err := ai.New(ctx, cfg.AI, logger)
	if err != nil {
		logger.Warn("ai assessor unavailable", zap.Error(err))
	} else if assessor != nil {
		deps.AI = assessor
	}

	return server.New(*cfg, deps, logger).Run(ctx)
}

// runScan runs the URL pipeline once without the browser or history store.
func runScan(ctx context.Context, rawURL string) error {
	feed := intel.NewFeed(cfg.Intel, logger)
	if err := feed.Load(ctx); err != nil {
		logger.Warn("blocklist load failed", zap.Error(err))
	}

	sb := intel.NewSafeBrowsing(cfg.Intel.SafeBrowsingAPIKey, logger)
	domains := domaininfo.NewProvider(cfg.Scanner.CheckTimeoutDuration())
	urls := scanner.New(cfg.Scanner, sb, feed, domains, logger)

	verdict := urls.Scan(ctx, rawURL)
	out, err := json.MarshalIndent(verdict, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
