package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/floegence/previewdev/deverrors"
	"github.com/floegence/previewdev/inspector"
	"github.com/floegence/previewdev/internal/cmdutil"
	"github.com/floegence/previewdev/internal/defaults"
	"github.com/floegence/previewdev/internal/logging"
	"github.com/floegence/previewdev/internal/version"
	"github.com/floegence/previewdev/listenaddr"
	"github.com/floegence/previewdev/observability"
	"github.com/floegence/previewdev/observability/prom"
	"github.com/floegence/previewdev/pipeline"
	"github.com/floegence/previewdev/proxy"
	"github.com/floegence/previewdev/session"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

type ready struct {
	Status  string `json:"status"`
	Version string `json:"version"`

	Listen    string `json:"listen"`
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	Inspector bool   `json:"inspector"`
	Metrics   string `json:"metrics,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := pflag.NewFlagSet("previewdev", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	loader := newConfigLoader(fs)
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintln(out, "Usage:")
		fmt.Fprintln(out, "  previewdev --script ./dist/worker.js [--port 8787]")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Examples:")
		fmt.Fprintln(out, "  # Build, upload and serve a preview on http://127.0.0.1:8787")
		fmt.Fprintln(out, "  previewdev --build-command 'npm run build' --script ./dist/worker.js")
		fmt.Fprintln(out, "  # Serve an already uploaded script under a custom display host")
		fmt.Fprintln(out, "  previewdev --script-id abc123 --host https://dev.example.com --ip 0.0.0.0")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Output:")
		fmt.Fprintln(out, "  stdout: a JSON ready object, then access lines and console.log output")
		fmt.Fprintln(out, "  stderr: logs, console.error output and exceptions")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Exit codes:")
		fmt.Fprintln(out, "  0: stopped by interrupt")
		fmt.Fprintln(out, "  2: usage or configuration error (bad host/ip/port, port in use)")
		fmt.Fprintln(out, "  1: runtime error")
		fmt.Fprintln(out, "")
		fmt.Fprintln(out, "Flags:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *showVersion {
		_, _ = fmt.Fprintln(stdout, version.String())
		return 0
	}

	cfg, err := loader.load()
	if err == nil {
		err = cfg.validate()
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return 2
	}

	logger, closer, err := logging.New(cfg.logConfig(), stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, env{stdout: stdout, stderr: stderr, logger: logger, goos: runtime.GOOS})
}

type env struct {
	stdout io.Writer
	stderr io.Writer
	logger zerolog.Logger
	goos   string
}

// serve runs one dev session until ctx is canceled and returns the exit code.
func serve(ctx context.Context, cfg config, e env) int {
	logger := e.logger

	addr, err := listenaddr.Resolve(cfg.listenInput())
	if err != nil {
		return fail(e, err)
	}

	command, err := cmdutil.SplitCommand(cfg.BuildCommand)
	if err != nil {
		return fail(e, &cmdutil.UsageError{Msg: err.Error()})
	}
	builder := &pipeline.CommandBuilder{
		Command: command,
		Stdout:  e.stdout,
		Stderr:  e.stderr,
		Logger:  &logger,
	}
	if err := builder.Build(ctx); err != nil {
		return fail(e, err)
	}

	var publisher pipeline.Publisher = pipeline.StaticPublisher{ArtifactID: cfg.ScriptID}
	if cfg.ScriptID == "" {
		publisher = &pipeline.UploadPublisher{URL: cfg.UploadURL, ScriptPath: cfg.Script}
	}
	artifactID, err := publisher.Publish(ctx)
	if err != nil {
		return fail(e, err)
	}

	sid, err := session.NewID()
	if err != nil {
		return fail(e, err)
	}
	token, err := session.Token(artifactID, sid, addr)
	if err != nil {
		return fail(e, err)
	}

	proxyObs := observability.NewAtomicProxyObserver()
	var bridgeObs observability.BridgeObserver = observability.NoopBridgeObserver
	var metricsAddr string
	if cfg.MetricsListen != "" {
		reg := prom.NewRegistry()
		proxyObs.Set(prom.NewProxyObserver(reg))
		bridgeObs = prom.NewBridgeObserver(reg)
		a, err := serveMetrics(ctx, cfg.MetricsListen, prom.Handler(reg), logger)
		if err != nil {
			return fail(e, deverrors.Wrap(deverrors.StageConfig, deverrors.CodeBindFailed, err))
		}
		metricsAddr = a.String()
	}

	capability := inspector.Resolve(e.goos, cfg.Inspect)
	if capability.Available {
		bridge, err := inspector.New(inspector.Options{
			URL:       cfg.InspectorURL,
			SessionID: sid,
			Stdout:    e.stdout,
			Stderr:    e.stderr,
			Logger:    &logger,
			Observer:  bridgeObs,
		})
		if err != nil {
			return fail(e, deverrors.Wrap(deverrors.StageConfig, deverrors.CodeInvalidOption, err))
		}
		inspector.Go(ctx, bridge, &logger)
	} else {
		logger.Warn().Str("reason", capability.Reason).Msg("console.log output from the preview is not available")
	}

	err = proxy.ListenAndServe(ctx, proxy.Options{
		Upstream:  cfg.Upstream,
		Address:   addr,
		Token:     token,
		Logger:    &logger,
		AccessLog: e.stdout,
		Observer:  proxyObs,
		OnListen: func(bound net.Addr) {
			_ = cmdutil.WriteJSON(e.stdout, ready{
				Status:    "ready",
				Version:   version.String(),
				Listen:    bound.String(),
				URL:       addr.URL(),
				SessionID: string(sid),
				Inspector: capability.Available,
				Metrics:   metricsAddr,
			})
			_, _ = fmt.Fprintf(e.stdout, "Listening on %s\n", addr.URL())
		},
	})
	if err != nil {
		return fail(e, err)
	}
	return 0
}

func fail(e env, err error) int {
	if cmdutil.IsUsage(err) || deverrors.IsConfig(err) {
		fmt.Fprintln(e.stderr, err)
		return 2
	}
	e.logger.Error().Err(err).Msg("previewdev stopped")
	return 1
}

func serveMetrics(ctx context.Context, listen string, metrics http.Handler, logger zerolog.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: defaults.HTTPReadHeaderTimeout,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Msg("metrics listener stopped")
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	return ln.Addr(), nil
}
