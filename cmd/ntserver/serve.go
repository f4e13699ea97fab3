package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/ntserver/config"
	"github.com/wippyai/ntserver/cpucontext"
	"github.com/wippyai/ntserver/errors"
	"github.com/wippyai/ntserver/kernel"
	"github.com/wippyai/ntserver/server"
	"github.com/wippyai/ntserver/syncprim"
)

type serveFlags struct {
	socket      string
	debug       int
	persistent  int
	metrics     string
	syncDisable bool
	backend     string
	machine     string
	layout      string
}

func serveCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server",
		Long: `Runs the server on its unix socket until SIGTERM or SIGINT, or until
the persistent delay after the last client disconnects has passed.

Examples:
  ntserver serve                     # defaults, exit 3s after the last client
  ntserver serve -p -1               # stay up forever
  ntserver serve -d 2 --metrics :9100`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.socket, "socket", "s", "", "socket path")
	fl.IntVarP(&f.debug, "debug", "d", 0, "debug level: 0 info, 1 debug, 2 request trace")
	fl.IntVarP(&f.persistent, "persistent", "p", 0, "seconds to linger after the last client, -1 forever")
	fl.StringVar(&f.metrics, "metrics", "", "prometheus listen address")
	fl.BoolVar(&f.syncDisable, "no-sync-device", false, "always use in-process sync primitives")
	fl.StringVar(&f.backend, "context-backend", "", "register backend: auto, ptrace, mach, procfs, none")
	fl.StringVar(&f.machine, "machine", "", "client machine, auto for the host")
	fl.StringVar(&f.layout, "layout", "", "wire layout: host, 32, 64")
	return cmd
}

// loadConfig applies the flags that were set on top of the loaded file and
// environment.
func loadConfig(cmd *cobra.Command, f serveFlags) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("socket") {
		cfg.SocketPath = f.socket
	}
	if fl.Changed("debug") {
		cfg.DebugLevel = f.debug
	}
	if fl.Changed("persistent") {
		cfg.Persistent = f.persistent
	}
	if fl.Changed("metrics") {
		cfg.Metrics.Listen = f.metrics
	}
	if fl.Changed("no-sync-device") {
		cfg.Sync.Disable = f.syncDisable
	}
	if fl.Changed("context-backend") {
		cfg.Context.Backend = f.backend
	}
	if fl.Changed("machine") {
		cfg.Context.Machine = f.machine
	}
	if fl.Changed("layout") {
		cfg.Layout = f.layout
	}
	return cfg, cfg.Validate()
}

// newLogger writes to stderr, human readable on a terminal and JSON
// otherwise.
func newLogger(level int) *zap.Logger {
	lvl := zapcore.InfoLevel
	if level >= config.DebugDebug {
		lvl = zapcore.DebugLevel
	}
	var enc zapcore.Encoder
	if term.IsTerminal(int(os.Stderr.Fd())) {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	} else {
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	return zap.New(zapcore.NewCore(enc, zapcore.Lock(os.Stderr), lvl))
}

func setLoggers(log *zap.Logger) {
	server.SetLogger(log.Named("server"))
	kernel.SetLogger(log.Named("kernel"))
	cpucontext.SetLogger(log.Named("context"))
	syncprim.SetLogger(log.Named("sync"))
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := newLogger(cfg.DebugLevel)
	defer log.Sync() //nolint:errcheck
	setLoggers(log)

	opts, err := cfg.ServerOptions()
	if err != nil {
		return err
	}
	copts, err := cfg.ContextOptions()
	if err != nil {
		return err
	}
	backend, err := cpucontext.Open(copts)
	if err != nil {
		if cfg.Context.Backend != cpucontext.KindAuto {
			return err
		}
		log.Warn("no register backend, context requests are disabled", zap.Error(err))
	} else {
		defer backend.Close()
		opts.Backend = backend
	}
	opts.Host = kernel.DefaultSignalHost()
	opts.Logger = log.Named("server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	opts.Registerer = reg

	srv, err := server.New(opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SocketPath), 0o700); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindUnsuccessful, err, "create socket directory")
	}
	ln, err := server.Listen(cfg.SocketPath)
	if err != nil {
		return err
	}
	defer os.Remove(cfg.SocketPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the metrics endpoint goes down with the server
		defer cancel()
		return srv.Serve(gctx, ln)
	})
	if cfg.Metrics.Listen != "" {
		hs := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Listen))
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(errors.PhaseConfig, errors.KindUnsuccessful, err, "metrics listener")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			return hs.Shutdown(sctx)
		})
	}
	err = g.Wait()
	log.Info("server stopped", zap.String("instance", srv.InstanceID().String()), zap.Error(err))
	return err
}
