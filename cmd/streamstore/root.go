package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/muesli/termenv"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/codewandler/streamstore/adapters/prometheus"
	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/backends"
	"github.com/codewandler/streamstore/internal/codec"
	"github.com/codewandler/streamstore/internal/config"
	"github.com/codewandler/streamstore/internal/domain"
)

var styles = struct {
	Title   lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Subtle  lipgloss.Style
	Bold    lipgloss.Style
}{
	Title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")),
	Success: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
	Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	Subtle:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	Bold:    lipgloss.NewStyle().Bold(true),
}

type app struct {
	stdout io.Writer
	stderr io.Writer

	// flags
	cfgFile string
	output  string
	noColor bool

	loader *config.Loader
	cfg    *config.Config
	logger *log.Logger
	log    *slog.Logger

	opened  *backends.Opened
	env     *es.Env
	metrics *http.Server
}

func newApp(stdout, stderr io.Writer) *app {
	logger := log.NewWithOptions(stderr, log.Options{ReportTimestamp: true})
	return &app{
		stdout: stdout,
		stderr: stderr,
		loader: config.NewLoader(),
		logger: logger,
		log:    slog.New(logger),
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamstore",
		Short: "Event streams with optimistic concurrency on pluggable backends",
		Long: `streamstore appends events to versioned streams and reads them back.

The backend is picked by configuration: memory, sqlite, postgres, nats,
docstore-memory or docstore-nats. Settings come from streamstore.yaml,
STREAMSTORE_* environment variables and flags, in increasing precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ./streamstore.yaml)")
	flags.StringVarP(&a.output, "output", "o", "text", "output format (text, json, yaml)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.String("backend", config.BackendMemory, "backend kind")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "serve prometheus metrics on this address")

	v := a.loader.Viper()
	_ = v.BindPFlag("backend", flags.Lookup("backend"))
	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	root.AddCommand(
		a.userCmd(),
		a.fetchCmd(),
		a.listCmd(),
		a.demoCmd(),
	)
	return root
}

func (a *app) init(ctx context.Context) error {
	if a.noColor {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
	if a.cfgFile != "" {
		a.loader.WithConfigPath(a.cfgFile)
	}
	if _, err := codec.ForFormat(a.codecFormat()); err != nil {
		return err
	}

	cfg, err := a.loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.cfg = cfg

	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	a.logger.SetLevel(log.Level(level))
	if f := a.loader.ConfigFileUsed(); f != "" {
		a.log.Debug("loaded config", slog.String("file", f))
	}

	opened, err := backends.Open(*cfg, a.log)
	if err != nil {
		return err
	}
	a.opened = opened

	envOpts := append(opened.EnvOptions(),
		es.WithLog(a.log),
		es.WithEvents(domain.Events()...),
	)
	if cfg.MetricsAddr != "" {
		reg, err := a.serveMetrics(ctx, cfg.MetricsAddr)
		if err != nil {
			return err
		}
		envOpts = append(envOpts, es.WithMetrics(prometheus.NewESMetrics(reg)))
	}
	a.env = es.NewEnv(envOpts...)
	return nil
}

func (a *app) serveMetrics(ctx context.Context, addr string) (*promclient.Registry, error) {
	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.Handler(reg))
	a.metrics = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go func() {
		if err := a.metrics.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	a.log.Info("serving metrics", slog.String("addr", ln.Addr().String()))
	return reg, nil
}

func (a *app) close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metrics.Shutdown(ctx)
	}
	if a.opened != nil {
		if err := a.opened.Close(); err != nil {
			a.log.Error("failed to close backend", slog.Any("error", err))
		}
	}
}

func (a *app) codecFormat() string {
	if a.output == "text" {
		return "json"
	}
	return a.output
}

// print writes v in the selected structured format; text falls back to textFn.
func (a *app) print(v any, textFn func(w io.Writer) error) error {
	if a.output == "text" && textFn != nil {
		return textFn(a.stdout)
	}
	c, err := codec.ForFormat(a.codecFormat())
	if err != nil {
		return err
	}
	return codec.Write(a.stdout, c, v)
}

func (a *app) users() *es.TypedRepository[*domain.User] {
	return es.NewTypedRepositoryFrom(a.env, domain.NewUser)
}
