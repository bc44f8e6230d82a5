package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/eden-task/usersvc/internal/cfg"
	"github.com/eden-task/usersvc/internal/guard"
	"github.com/eden-task/usersvc/internal/health"
	"github.com/eden-task/usersvc/internal/httpmw"
	"github.com/eden-task/usersvc/internal/httpserver"
	"github.com/eden-task/usersvc/internal/log"
	"github.com/eden-task/usersvc/internal/metrics"
	"github.com/eden-task/usersvc/internal/opshttp"
	"github.com/eden-task/usersvc/internal/otelx"
	"github.com/eden-task/usersvc/internal/prof"
	"github.com/eden-task/usersvc/internal/ratelimit"
	"github.com/eden-task/usersvc/internal/seed"
	"github.com/eden-task/usersvc/internal/user"
	"github.com/eden-task/usersvc/internal/userhttp"
	v "github.com/eden-task/usersvc/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Get build/version info
	vi := v.Get()

	// local dev convenience, ignored when no .env file exists
	_ = godotenv.Load()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Version, vi.Commit, vi.CommitDate, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix USERSVC_ and validate
	cfg.FillFromEnv(flag.CommandLine, "USERSVC_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	// validate config
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid stacktrace level %s: %v\n", conf.StacktraceLevel, err)
		os.Exit(1)
	}
	lg, err := log.New(log.Options{
		App:             v.AppName,
		Version:         v.Version,
		Commit:          v.Commit,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	// no-op for slog/stderr, but here if we swap backends in the future to ensure any buffered logs are flushed on shutdown
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"enable_seed_fetch", conf.EnableSeedFetch,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"pyro_tenant", conf.PyroTenantID,
		"trace_sample", conf.TraceSample,
		"rate_per_second", conf.RatePerSecond,
		"rate_burst", conf.RateBurst,
		"trusted_hops", conf.TrustedHops,
		"seed_ssm_param", conf.SeedSSMParam,
		"seed_s3_bucket", conf.SeedS3Bucket,
		"seed_s3_prefix", conf.SeedS3Prefix,
	)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"source":    "go-agent",
		},
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics / admin listener
	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(conf.EnablePyroscope)

	// setup user store and seed it, remote fixtures win over the builtin
	// set when fetching is enabled and succeeds
	store := user.NewMemoryStore()

	fixtures := seed.Builtin()
	if conf.EnableSeedFetch {
		loader, err := seed.NewLoader(ctx, seed.LoaderOptions{
			Logger:   L,
			SSMParam: conf.SeedSSMParam,
			S3Bucket: conf.SeedS3Bucket,
			S3Prefix: conf.SeedS3Prefix,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create seed loader, falling back to builtin fixtures")
		} else if remote, err := loader.Load(ctx); err != nil {
			L.Error(ctx, err, "failed to fetch seed fixtures, falling back to builtin fixtures")
		} else {
			fixtures = remote
		}
	}

	seeded, err := seed.Apply(ctx, store, fixtures)
	if err != nil {
		L.Error(ctx, err, "failed to apply seed fixtures", "applied", seeded)
		os.Exit(1)
	}
	L.Info(ctx, "seeded user store", "users", seeded)
	m.SetUsersTotal(seeded)

	// keep the users gauge in step with CRUD traffic
	go func() {
		t := time.NewTicker(30 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n, err := store.Count(context.Background()); err == nil {
					m.SetUsersTotal(n)
				}
			}
		}
	}()

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	// readiness requires the shutdown gate to be open and the store reachable
	readiness := health.All(
		gate.Probe(),
		health.CheckFunc(func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		}),
	)

	// Setup rate limiter middleware
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RatePerSecond, conf.RateBurst),
		// increment prometheus counter on each denied request
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		// only log the first time an ip is denied each time it is cleaned from the bucket
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	// request guard: size, content type and nesting depth checks plus
	// sanitization of string leaves, applied before any handler sees the body
	guardMW := guard.Middleware(guard.Options{
		Logger:      L,
		RateLimit:   limiter.Burst(),
		OnRejected:  m.IncGuardRejected,
		OnSanitized: m.AddSanitizedFields,
	})

	api := userhttp.NewAPI(store, L)

	// start api http server
	apiHTTPStop, err := httpserver.Start(
		ctx,
		&httpserver.Options{
			Logger:       L,
			Port:         conf.HTTPPort,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
			MetricsMW:    m.Middleware,
			RateLimitMW:  limiter.Middleware,
			GuardMW:      guardMW,
			ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			APIRoutes:    api.RegisterRoutes,
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks, pprof and any future admin APIs
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      health.Fixed(true, ""),
		Readiness:   readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// block until ctrl+c / sigterm
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness so load balancers stop sending new requests
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// short drain window for in-flight requests and health check propagation,
	// a second signal skips it
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(5 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
