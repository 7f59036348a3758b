package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"lunchcal/internal/config"
	appLog "lunchcal/internal/log"
	"lunchcal/internal/menu"
	"lunchcal/internal/metrics"
	"lunchcal/internal/pipeline"
	"lunchcal/internal/publish"
	"lunchcal/internal/web"
)

const version = "0.1.0"

// Exit codes.
const (
	exitOK = iota
	exitConfig
	exitFetch
	exitParse
	exitPublish
	exitOther
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	envFile    string
	mode       string
	start      string
	end        string
	output     string
	listen     string
	daemon     bool
	stdout     bool
	debug      bool
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	flags, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "lunchcal: %v\n", err)
		return exitConfig
	}

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Info("lunchcal starting", "version", version)

	cfg, err := loadConfig(flags)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		fmt.Fprintf(stderr, "lunchcal: config: %v\n", err)
		return exitConfig
	}
	if !flags.debug {
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}

	appLog.Info("effective config",
		"org", cfg.API.OrgID,
		"menu", cfg.API.MenuID,
		"display_mode", cfg.DisplayMode,
		"output", cfg.Output,
		"timezone", cfg.Timezone,
		"range_mode", cfg.Range.Mode,
		"refresh", cfg.RefreshCron,
		"daemon", flags.daemon,
		"stdout", flags.stdout,
	)

	if flags.daemon {
		if err := runDaemon(ctx, cfg); err != nil {
			fmt.Fprintf(stderr, "lunchcal: %v\n", err)
			return exitOther
		}
		return exitOK
	}

	runner, err := pipeline.FromConfig(cfg, metrics.New(nil))
	if err != nil {
		fmt.Fprintf(stderr, "lunchcal: config: %v\n", err)
		return exitConfig
	}
	window, err := pipeline.WindowFor(cfg, time.Now())
	if err != nil {
		fmt.Fprintf(stderr, "lunchcal: config: %v\n", err)
		return exitConfig
	}

	if flags.stdout {
		data, _, err := runner.Render(ctx, window)
		if err != nil {
			fmt.Fprintf(stderr, "lunchcal: %v\n", err)
			return exitCode(err)
		}
		if _, err := stdout.Write(data); err != nil {
			fmt.Fprintf(stderr, "lunchcal: write stdout: %v\n", err)
			return exitOther
		}
		return exitOK
	}

	rep, err := runner.Run(ctx, window)
	if err != nil {
		fmt.Fprintf(stderr, "lunchcal: %v\n", err)
		return exitCode(err)
	}
	fmt.Fprintf(stdout, "published %d events for %s..%s to %s\n", rep.Events, rep.RangeStart, rep.RangeEnd, rep.Output)
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (flagConfig, error) {
	var cfg flagConfig

	fs := pflag.NewFlagSet("lunchcal", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&cfg.configPath, "config", "c", "lunchcal.yaml", "Path to config file (created with defaults if missing)")
	fs.StringVar(&cfg.envFile, "env-file", ".env", "Optional .env file with LUNCHCAL_* overrides")
	fs.StringVar(&cfg.mode, "mode", "", "Display mode: entree_only or full_meal (overrides config)")
	fs.StringVar(&cfg.start, "start", "", "First date to fetch, YYYY-MM-DD (with --end)")
	fs.StringVar(&cfg.end, "end", "", "Last date to fetch, YYYY-MM-DD (with --start)")
	fs.StringVarP(&cfg.output, "output", "o", "", "Published calendar path (overrides config)")
	fs.StringVar(&cfg.listen, "listen", "", "HTTP listen address in daemon mode (overrides config)")
	fs.BoolVar(&cfg.daemon, "daemon", false, "Run on the configured cron schedule instead of once")
	fs.BoolVar(&cfg.stdout, "stdout", false, "Print the calendar to stdout instead of publishing")
	fs.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if cfg.daemon && cfg.stdout {
		return cfg, errors.New("--daemon and --stdout are mutually exclusive")
	}
	return cfg, nil
}

// loadConfig layers file, .env/environment and flags, then validates.
func loadConfig(flags flagConfig) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, fmt.Errorf("env file: %w", err)
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}

	if flags.mode != "" {
		cfg.DisplayMode = flags.mode
	}
	if flags.output != "" {
		cfg.Output = flags.output
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.start != "" || flags.end != "" {
		cfg.Range.Start = flags.start
		cfg.Range.End = flags.end
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCode maps a pipeline error to the process exit status.
func exitCode(err error) int {
	var (
		fe *menu.FetchError
		pe *menu.ParseError
		we *publish.PublishError
	)
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &pe):
		return exitParse
	case errors.As(err, &fe):
		return exitFetch
	case errors.As(err, &we):
		return exitPublish
	default:
		return exitOther
	}
}

// runDaemon runs the pipeline immediately and then on cfg.RefreshCron until
// ctx is canceled. Failed runs are logged; the next tick is the retry.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	reg := prometheus.NewRegistry()
	runner, err := pipeline.FromConfig(cfg, metrics.New(reg))
	if err != nil {
		return err
	}
	reports := &web.ReportStore{}

	runOnce := func() {
		window, err := pipeline.WindowFor(cfg, time.Now())
		if err != nil {
			appLog.Error("daemon: window", err)
			return
		}
		rep, _ := runner.Run(ctx, window)
		reports.Set(rep)
	}

	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
	)
	if _, err := c.AddFunc(cfg.RefreshCron, runOnce); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", cfg.RefreshCron, err)
	}

	// Run once before Start so it cannot overlap a scheduled tick.
	runOnce()
	c.Start()
	appLog.Info("scheduler started", "refresh", cfg.RefreshCron, "timezone", cfg.Timezone)

	var srvErr error
	if cfg.Listen != "" {
		srv := web.NewServer(cfg, reports, reg)
		srvErr = web.StartServer(ctx, cfg.Listen, srv.Handler())
	} else {
		<-ctx.Done()
	}

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(30 * time.Second):
		appLog.Info("scheduler stop timed out; exiting with run in flight")
	}
	appLog.Info("lunchcal exiting")
	return srvErr
}

// cronLogger adapts robfig/cron's logger to the app logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
