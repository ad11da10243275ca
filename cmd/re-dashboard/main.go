// Command re-dashboard keeps a live, merged view of production-line units
// from the dashboard backend and prints it as JSON lines or shows it in a
// terminal viewer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ersozo/re-dashboard/internal/channel"
	"github.com/ersozo/re-dashboard/internal/config"
	"github.com/ersozo/re-dashboard/internal/logger"
	"github.com/ersozo/re-dashboard/internal/metrics"
	"github.com/ersozo/re-dashboard/internal/protocol"
	"github.com/ersozo/re-dashboard/internal/pull"
	"github.com/ersozo/re-dashboard/internal/session"
	"github.com/ersozo/re-dashboard/internal/snapshot"
	"github.com/ersozo/re-dashboard/internal/statusapi"
	"github.com/ersozo/re-dashboard/internal/viewer"
)

type flags struct {
	configPath  string
	envPath     string
	url         string
	token       string
	units       string
	start       string
	end         string
	mode        string
	view        string
	workingMode string
	transport   string
	statusAddr  string
	logLevel    string
	logFormat   string
	logFile     string
	tui         bool
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "Path to config file")
	flag.StringVar(&f.envPath, "env", ".env", "Path to .env file")
	flag.StringVar(&f.url, "url", "", "Backend base URL, e.g. http://127.0.0.1:8000")
	flag.StringVar(&f.token, "token", "", "Bearer token (if the backend requires it)")
	flag.StringVar(&f.units, "units", "", "Comma-separated unit names (default: all units the backend lists)")
	flag.StringVar(&f.start, "start", "", "Range start, RFC 3339 or \"2006-01-02 15:04\"")
	flag.StringVar(&f.end, "end", "", "Range end, RFC 3339 or \"2006-01-02 15:04\"")
	flag.StringVar(&f.mode, "mode", "", "live, historical or auto")
	flag.StringVar(&f.view, "view", "", "standard, hourly or report")
	flag.StringVar(&f.workingMode, "working-mode", "", "mode1, mode2 or mode3")
	flag.StringVar(&f.transport, "transport", "", "WebSocket client: gorilla or coder")
	flag.StringVar(&f.statusAddr, "status-addr", "", "Serve /healthz, /state and /metrics on this address")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level")
	flag.StringVar(&f.logFormat, "log-format", "", "Log format: json or console")
	flag.StringVar(&f.logFile, "log-file", "re-dashboard.log", "Log file while the terminal viewer is running")
	flag.BoolVar(&f.tui, "tui", false, "Show the terminal viewer instead of printing JSON lines")
	flag.Parse()

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (*config.Config, error) {
	if err := config.LoadDotEnv(f.envPath); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Backend.URL, f.url)
	override(&cfg.Backend.Token, f.token)
	override(&cfg.Session.Start, f.start)
	override(&cfg.Session.End, f.end)
	override(&cfg.Session.Mode, f.mode)
	override(&cfg.Session.View, f.view)
	override(&cfg.Session.WorkingMode, f.workingMode)
	override(&cfg.Channel.Transport, f.transport)
	override(&cfg.Status.Listen, f.statusAddr)
	override(&cfg.Log.Level, f.logLevel)
	override(&cfg.Log.Format, f.logFormat)
	if f.units != "" {
		cfg.Session.Units = config.SplitList(f.units)
	}

	return cfg, cfg.Validate()
}

func newDialer(cfg *config.Config) channel.Dialer {
	if cfg.Channel.Transport == config.TransportCoder {
		return channel.CoderDialer{WriteTimeout: cfg.Channel.WriteTimeout}
	}
	return channel.GorillaDialer{
		WriteTimeout: cfg.Channel.WriteTimeout,
		ReadTimeout:  cfg.Channel.ReadTimeout,
	}
}

// sessionParams builds the first session from the configuration.
func sessionParams(cfg *config.Config, units []string, now time.Time) (session.Params, error) {
	r, err := cfg.TimeRange(now)
	if err != nil {
		return session.Params{}, err
	}
	p := session.Params{
		EntityIDs:   units,
		Range:       r,
		Mode:        cfg.ResolveMode(r.End, now),
		View:        protocol.ViewKind(cfg.Session.View),
		WorkingMode: protocol.WorkingMode(cfg.Session.WorkingMode),
	}
	return p, p.Validate()
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	var logPaths []string
	if f.tui {
		logPaths = []string{f.logFile}
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, logPaths...)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	puller := pull.NewClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.HTTPTimeout)
	pub := snapshot.NewPublisher(cfg.Publisher.UpdatingWindow, m)
	defer pub.Close()

	ctrl := session.NewController(session.Options{
		BaseURL:           cfg.Backend.URL,
		Token:             cfg.Backend.Token,
		Dialer:            newDialer(cfg),
		Puller:            puller,
		Policy:            cfg.Policy(),
		HeartbeatInterval: cfg.Channel.HeartbeatInterval,
		Publisher:         pub,
		Logger:            log,
		Metrics:           m,
	})

	units := cfg.Session.Units
	if len(units) == 0 {
		if units, err = puller.Units(ctx); err != nil {
			return fmt.Errorf("discover units: %w", err)
		}
		log.Info("discovered units", zap.Strings("units", units))
	}
	params, err := sessionParams(cfg, units, time.Now())
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })
	if cfg.Status.Listen != "" {
		srv := statusapi.NewServer(pub, m, log)
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Status.Listen) })
	}

	if err := ctrl.Start(params); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	// Either front end returns when the user is done or the context ends.
	g.Go(func() error {
		defer stop()
		if f.tui {
			p := tea.NewProgram(viewer.New(ctrl, pub), tea.WithAltScreen(), tea.WithContext(gctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		}
		return printStates(gctx, pub, os.Stdout)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("shut down")
	return err
}
