package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ahobbs/domainwatch/internal/config"
	"github.com/ahobbs/domainwatch/internal/httpapi"
	"github.com/ahobbs/domainwatch/internal/logging"
	"github.com/ahobbs/domainwatch/internal/probe"
	"github.com/ahobbs/domainwatch/internal/registry"
	"github.com/ahobbs/domainwatch/internal/scheduler"
	"github.com/ahobbs/domainwatch/internal/sink"
)

var (
	version = "dev"

	cfgFile       string
	domainsFile   string
	resolversFile string
	intervalFlag  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "domainwatch",
	Short: "DNS resolution and TLS certificate health checker",
	Long: `domainwatch periodically probes DNS resolution and TLS certificate
health for a set of domains and persists the results to a JSON file or
forwards them to a remote monitoring API.

Registry files are plain text, one entry per line, # for comments:
  config.txt       domains to check (bare domain, host:port, or URL)
  dns_servers.txt  nameserver IPs for DNS checks`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var dnsCmd = &cobra.Command{
	Use:   "dns",
	Short: "Resolve every domain against every configured nameserver",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), probe.KindDNS)
	},
}

var tlsCmd = &cobra.Command{
	Use:   "tls",
	Short: "Check TLS certificate validity and expiry for every domain",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd.Context(), probe.KindTLS)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run both checks on an interval and expose a status API",
	RunE:  runServe,
}

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Validate configuration and registry files without probing",
	RunE:  runPreflight,
}

func init() {
	rootCmd.Version = version

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	pf.StringVar(&domainsFile, "domains", "", "domains registry file (overrides config)")
	pf.StringVar(&resolversFile, "resolvers", "", "nameservers registry file (overrides config)")
	pf.DurationVar(&intervalFlag, "interval", 0, "repeat runs at this interval (0 = run once)")

	rootCmd.AddCommand(dnsCmd, tlsCmd, serveCmd, preflightCmd)
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "domainwatch:", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, err
	}
	cfg = config.FromEnv(cfg)
	if domainsFile != "" {
		cfg.DomainsFile = domainsFile
	}
	if resolversFile != "" {
		cfg.ResolversFile = resolversFile
	}
	if intervalFlag > 0 {
		cfg.Interval = config.Duration(intervalFlag)
	}
	return cfg, cfg.Validate()
}

func loadRegistry(cfg config.Config, kind probe.Kind) (registry.Registry, error) {
	targets, err := registry.LoadTargets(cfg.DomainsFile)
	if err != nil {
		return registry.Registry{}, err
	}
	reg := registry.Registry{Targets: targets}
	if kind == probe.KindDNS {
		resolvers, err := registry.LoadResolvers(cfg.ResolversFile)
		if err != nil {
			return registry.Registry{}, err
		}
		if len(resolvers) == 0 {
			return registry.Registry{}, fmt.Errorf("no nameservers in %s", cfg.ResolversFile)
		}
		reg.Resolvers = resolvers
	}
	return reg, nil
}

func buildRunner(cfg config.Config, kind probe.Kind, logger *zap.Logger, status scheduler.StatusRecorder) (*scheduler.Runner, error) {
	reg, err := loadRegistry(cfg, kind)
	if err != nil {
		return nil, err
	}

	var prober probe.Prober
	var snk sink.Sink
	switch kind {
	case probe.KindDNS:
		prober = probe.NewDNSChecker(cfg.Timeout.Std())
		snk = sink.NewFileSink(cfg.Sink.DNSFile, kind, logger)
	case probe.KindTLS:
		prober = probe.NewTLSChecker(cfg.Timeout.Std())
		snk = sink.NewFileSink(cfg.Sink.TLSFile, kind, logger)
	}
	if cfg.Sink.Type == config.SinkRemote {
		rs := sink.NewRemoteSink(cfg.Sink.APIBase, cfg.Sink.APIToken, kind, logger)
		rs.MaxRetries = cfg.MaxRetries
		rs.RetryBackoff = cfg.RetryBackoff.Std()
		snk = rs
	}

	pool := scheduler.NewPool(logger, prober, scheduler.Config{
		Concurrency:  cfg.Concurrency,
		Timeout:      cfg.Timeout.Std(),
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff.Std(),
		RateLimit:    cfg.RateLimit,
		PerResolver:  cfg.PerResolver,
	})

	return &scheduler.Runner{
		Logger:   logger,
		Kind:     kind,
		Registry: reg,
		Pool:     pool,
		Sink:     snk,
		Interval: cfg.Interval.Std(),
		Deadline: cfg.RunDeadline.Std(),
		Status:   status,
	}, nil
}

func runCheck(ctx context.Context, kind probe.Kind) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logger.Sync()

	runner, err := buildRunner(cfg, kind, logger, nil)
	if err != nil {
		return err
	}

	sum, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	printSummary(sum)
	// Per-target failures are part of a completed run; only setup and
	// authentication errors exit non-zero.
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Interval == 0 {
		cfg.Interval = config.Duration(5 * time.Minute)
	}
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		return err
	}
	defer logger.Sync()

	api := httpapi.NewServer(logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errCh := make(chan error, 3)
	for _, kind := range []probe.Kind{probe.KindDNS, probe.KindTLS} {
		runner, err := buildRunner(cfg, kind, logger, api)
		if err != nil {
			return err
		}
		go func() {
			_, err := runner.Run(ctx)
			errCh <- err
		}()
	}

	if cfg.Listen != "" {
		srv := &http.Server{Addr: cfg.Listen, Handler: api.Router()}
		go func() {
			logger.Info("api_listen", zap.String("addr", cfg.Listen))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = srv.Shutdown(shutCtx)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func runPreflight(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	targets, err := registry.LoadTargets(cfg.DomainsFile)
	if err != nil {
		return err
	}
	fmt.Printf("domains:    %d (%s)\n", len(targets), cfg.DomainsFile)

	resolvers, err := registry.LoadResolvers(cfg.ResolversFile)
	if err != nil {
		return err
	}
	fmt.Printf("resolvers:  %d (%s)\n", len(resolvers), cfg.ResolversFile)
	if len(resolvers) == 0 {
		return fmt.Errorf("no nameservers in %s; DNS checks cannot run", cfg.ResolversFile)
	}

	fmt.Printf("sink:       %s\n", cfg.Sink.Type)
	fmt.Println("preflight passed")
	return nil
}

func printSummary(sum scheduler.Summary) {
	fmt.Printf("%s check complete: %d probes, %d succeeded", sum.Kind, sum.Probes, sum.Succeeded)
	if !sum.Complete {
		fmt.Printf(" (incomplete: run was cancelled)")
	}
	fmt.Println()

	if len(sum.FailedByKind) > 0 {
		kinds := make([]string, 0, len(sum.FailedByKind))
		for k := range sum.FailedByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Printf("  failed %-24s %d\n", k, sum.FailedByKind[probe.ErrorKind(k)])
		}
	}
	fmt.Printf("  sink writes: %d ok, %d failed\n", sum.SinkWritten, sum.SinkFailed)
}
