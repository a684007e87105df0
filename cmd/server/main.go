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

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/contact"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/github"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/health"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/log"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/playground"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/prof"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/secrets"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/sitehandler"
	v "github.com/keithlinneman/linnemanlabs-portfolio/internal/version"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/webassets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "LMLABS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging, levels were checked by Validate
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         "server",
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"trusted_hops", conf.TrustedHops,
		"site_dir", conf.SiteDir,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"trace_sample", conf.TraceSample,
		"redis_addr", conf.RedisAddr,
		"contact_s3_bucket", conf.ContactS3Bucket,
		"contact_kms", conf.ContactKMSKeyID != "",
		"contact_interval", conf.ContactInterval,
		"contact_max_requests", conf.ContactMaxRequests,
		"github_interval", conf.GitHubInterval,
		"github_max_requests", conf.GitHubMaxRequests,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

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
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we only export to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   "linnemanlabs",
		Component: "portfolio",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// AWS is optional, a local run with no bucket and no ssm params never loads credentials
	var (
		s3Client  *s3.Client
		kmsClient *kms.Client
		resolver  secrets.Resolver
	)
	if conf.NeedsAWS() {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}
		resolver = secrets.NewSSM(ssm.NewFromConfig(awsCfg))
		if conf.ContactS3Bucket != "" {
			// kms also unseals older objects for the admin lookup after the key setting changes
			s3Client = s3.NewFromConfig(awsCfg)
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	redisPassword, err := secrets.Resolve(ctx, resolver, conf.RedisPassword, conf.RedisPasswordSSMParam)
	if err != nil {
		L.Error(ctx, err, "failed to resolve redis password")
		os.Exit(1)
	}
	githubToken, err := secrets.Resolve(ctx, resolver, conf.GitHubToken, conf.GitHubTokenSSMParam)
	if err != nil {
		// anonymous github calls still work, just with a lower upstream quota
		L.Error(ctx, err, "failed to resolve github token, continuing unauthenticated")
		githubToken = ""
	}

	var rdb *redis.Client
	var redisCheck health.Pinger
	if conf.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     conf.RedisAddr,
			Password: redisPassword,
			DB:       conf.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		redisCheck = redisPinger{rdb}
		if err := redisCheck.Ping(ctx); err != nil {
			// readiness reports it, the limiter fails open and the store returns 500s until it recovers
			L.Warn(ctx, "redis not reachable at startup", "redis_addr", conf.RedisAddr, "error", err)
		}
	}

	// Per-purpose sliding windows, shared through redis when configured
	var (
		limiter  ratelimit.Checker
		resetter ratelimit.Resetter
	)
	if rdb != nil {
		rl := ratelimit.NewRedis(rdb,
			ratelimit.WithRedisRetention(conf.RateLimitRetention),
			ratelimit.WithOnError(func(err error) {
				L.Warn(ctx, "redis rate limit check failed, allowing request", "error", err)
			}),
		)
		limiter, resetter = rl, rl
	} else {
		win := ratelimit.NewWindow(
			ratelimit.WithRetention(conf.RateLimitRetention),
			ratelimit.WithOnFirstDenied(func(key string) {
				L.Warn(ctx, "rate limit triggered", "key", key)
			}),
		)
		win.StartJanitor(ctx, 0)
		go reportKeys(ctx, win, m.SetRateLimitKeys)
		limiter, resetter = win, ratelimit.WindowResetter{W: win}
	}

	// Site-wide token bucket in front of everything except probes
	flood := ratelimit.NewBucket(ctx,
		ratelimit.WithRate(conf.FloodRate, conf.FloodBurst),
		ratelimit.WithBucketOnDenied(func(string) { m.IncFloodDenied() }),
		ratelimit.WithBucketOnFirstDenied(func(ip string) {
			L.Warn(ctx, "flood guard triggered", "ip", ip)
		}),
	)

	// Contact form
	var (
		sink        contact.Sink = contact.LogSink{Logger: L}
		submissions opshttp.SubmissionReader
	)
	if s3Client != nil {
		s3Sink, err := contact.NewS3Sink(s3Client, kmsClient, contact.S3SinkOptions{
			Bucket:   conf.ContactS3Bucket,
			Prefix:   conf.ContactS3Prefix,
			KMSKeyID: conf.ContactKMSKeyID,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create contact sink")
			os.Exit(1)
		}
		sink = s3Sink

		reader, err := contact.NewReader(s3Client, kmsClient, conf.ContactS3Bucket, conf.ContactS3Prefix)
		if err != nil {
			L.Error(ctx, err, "failed to create contact reader")
			os.Exit(1)
		}
		submissions = reader
	}
	contactAPI := contact.NewAPI(contact.Options{
		Sink:        sink,
		Limiter:     limiter,
		Policy:      conf.ContactPolicy(),
		OnResult:    m.IncContactSubmission,
		OnRateLimit: m.ObserveRateLimit,
	})

	// Playground projects
	var store playground.Store = playground.NewMemoryStore()
	if rdb != nil {
		store = playground.NewRedisStore(rdb)
	}
	playgroundAPI := playground.NewAPI(store, m.SetPlaygroundProjects)
	if ps, err := store.List(ctx); err == nil {
		m.SetPlaygroundProjects(len(ps))
	}

	// GitHub stats and releases
	gh := github.NewClient(github.Options{
		Token:       githubToken,
		Limiter:     limiter,
		Policy:      conf.GitHubPolicy(),
		OnRateLimit: m.ObserveRateLimit,
		OnUpstream:  m.IncGitHubUpstream,
	})
	gh.StartJanitor(ctx, time.Minute)
	githubAPI := github.NewAPI(gh)

	// Static site: exported frontend on disk when configured and built, embedded seed otherwise
	seedFS, _ := webassets.Seed()
	var site sitehandler.First
	if conf.SiteDir != "" {
		site = append(site, sitehandler.NewDir(conf.SiteDir))
	}
	site = append(site, sitehandler.Static{FS: seedFS})

	siteHandler, err := sitehandler.New(sitehandler.Options{
		Logger:     L,
		Site:       site,
		FallbackFS: webassets.Fallback(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(
		&gate,
		health.Ping("redis", redisCheck, 2*time.Second),
	)

	siteHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedHops},
		MetricsMW:    m.Middleware,
		FloodMW:      flood.Middleware,
		Health:       health.Up(),
		Readiness:    readiness,
		APIs:         []httpserver.RouteRegistrar{contactAPI, playgroundAPI, githubAPI},
		SiteHandler:  siteHandler,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start site http listener")
		os.Exit(1)
	}
	defer func() { _ = siteHTTPStop(context.Background()) }()

	// ops listener only answers private and loopback peers, the security group is the first line
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Up(),
		Readiness:    readiness,
		RateLimits:   resetter,
		Submissions:  submissions,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")
	gate.Set("draining")

	L.Info(context.Background(), "sleeping 60s for in-flight requests and load balancer health checks to drain")
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(60 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := siteHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
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

// redisPinger adapts the go-redis client to health.Pinger.
type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

// reportKeys publishes the in-memory limiter size until ctx is done.
func reportKeys(ctx context.Context, w *ratelimit.Window, set func(int)) {
	t := time.NewTicker(15 * time.Second)
	defer t.Stop()
	for {
		set(w.Keys())
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func notifySystemd() error {
	// systemd sets NOTIFY_SOCKET when the unit is Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
