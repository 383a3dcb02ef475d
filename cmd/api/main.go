package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Davelummy/taxagent/internal/audit"
	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/config"
	"github.com/Davelummy/taxagent/internal/dashboard"
	"github.com/Davelummy/taxagent/internal/fieldcrypt"
	"github.com/Davelummy/taxagent/internal/httpapi"
	"github.com/Davelummy/taxagent/internal/intake"
	"github.com/Davelummy/taxagent/internal/objectstore"
	"github.com/Davelummy/taxagent/internal/obs"
	"github.com/Davelummy/taxagent/internal/profile"
	"github.com/Davelummy/taxagent/internal/ratelimit"
	"github.com/Davelummy/taxagent/internal/store/pg"
	"github.com/Davelummy/taxagent/internal/supabase"
	"github.com/Davelummy/taxagent/internal/uploads"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	root := &cobra.Command{
		Use:           "taxagent-api",
		Short:         "Tax intake and document upload API",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, eris.ToString(err, false))
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taxagent-api %s (%s)\n", version, commit)
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to HOST:PORT)")
	return cmd
}

// backends groups whatever persistence the configuration selected.
type backends struct {
	intakes    intake.Store
	records    uploads.Store
	visibility uploads.Visibility
	profiles   profile.Store
	source     dashboard.Source
	objects    objectstore.Store
	identity   auth.IdentityProvider
	auditSink  audit.Sink
	ready      httpapi.Pinger
	closers    []func() error
}

func serve(ctx context.Context, addr string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := obs.InitLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		return err
	}
	logger := obs.Logger()
	defer func() { _ = logger.Sync() }()
	obs.Init()
	obs.InitBuildInfo(version, commit)

	codec, err := fieldcrypt.FromBase64(cfg.Crypto.SSNKey)
	if err != nil {
		return err
	}

	proxies, err := httpapi.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	b, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range b.closers {
			_ = c()
		}
	}()

	preparers := auth.NewPreparerPolicy(cfg.Preparer.EmailDomain, cfg.Preparer.Emails)
	if !preparers.Configured() {
		logger.Warn("no preparer domain or emails configured; preparer routes are closed")
	}
	guard := auth.NewGuard(b.identity, preparers)

	auditor := audit.NewWriter(b.auditSink, audit.WithLogger(logger))

	uploadOpts := []uploads.Option{uploads.WithAudit(auditor)}
	if b.objects != nil {
		uploadOpts = append(uploadOpts, uploads.WithObjects(b.objects))
	}
	if b.visibility != nil {
		uploadOpts = append(uploadOpts, uploads.WithVisibility(b.visibility))
	}
	profiles := profile.NewService(b.profiles, nil)
	recorder := uploads.NewRecorder(b.records, profiles, guard, uploadOpts...)

	svc := httpapi.Services{
		Intake:    intake.NewManager(b.intakes, codec, intake.WithAudit(auditor), intake.WithRoles(guard)),
		Uploads:   recorder,
		Pipeline:  uploads.NewPipeline(recorder),
		Profiles:  profiles,
		Dashboard: dashboard.NewService(b.source, b.objects, preparers.Domain()),
	}

	apiLimit := ratelimit.New(ratelimit.Config{Window: 15 * time.Minute, Max: 120})
	intakeLimit := ratelimit.New(ratelimit.Config{Window: 5 * time.Minute, Max: 8})
	sweepCtx, stopSweeps := context.WithCancel(ctx)
	defer stopSweeps()
	go apiLimit.Run(sweepCtx, time.Minute)
	go intakeLimit.Run(sweepCtx, time.Minute)

	api := httpapi.New(guard, svc, version,
		httpapi.WithReadyProbe(httpapi.ReadyProbe{DB: b.ready}),
		httpapi.WithProduction(cfg.Production()),
		httpapi.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		httpapi.WithTrustedProxies(proxies),
		httpapi.WithLimits(apiLimit, intakeLimit),
	)

	if addr == "" {
		addr = net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting taxagent-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("env", cfg.Env),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-errCh:
		if err != nil {
			return eris.Wrap(err, "listen")
		}
	case <-stop:
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := auditor.Close(shutdownCtx); err != nil {
		logger.Warn("audit flush", zap.Error(err))
	}
	logger.Info("stopped")
	return nil
}

// openBackends picks PostgreSQL when DATABASE_URL is set and the in-process
// stores otherwise. Identity, object storage and visibility come from
// Supabase or S3 when configured.
func openBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backends, error) {
	b := &backends{auditSink: audit.LogSink{Logger: logger}}

	if cfg.Database.URL != "" {
		store, err := pg.Open(cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, store.Close)
		b.intakes, b.records, b.visibility = store, store, store
		b.profiles, b.source, b.auditSink = store, store, store
		b.ready = store.DB()
	} else {
		logger.Warn("DATABASE_URL not set; using in-memory stores")
		intakes, clients, records := intake.NewInMemory(), profile.NewMemory(), uploads.NewMemory()
		b.intakes, b.records, b.visibility, b.profiles = intakes, records, records, clients
		b.source = dashboard.MemorySource{Intakes: intakes, Clients: clients}
	}

	sb, err := supabase.New(supabase.Config{
		URL:            cfg.Supabase.URL,
		ServiceRoleKey: cfg.Supabase.ServiceRoleKey,
		AnonKey:        cfg.Supabase.AnonKey,
		Bucket:         cfg.Supabase.Bucket,
		HiddenTable:    cfg.Supabase.HiddenTable,
	})
	if err != nil && !errors.Is(err, supabase.ErrNotConfigured) {
		return nil, err
	}

	switch {
	case cfg.Supabase.JWTSecret != "":
		v, err := auth.NewJWTVerifier(cfg.Supabase.JWTSecret, auth.WithAudience("authenticated"))
		if err != nil {
			return nil, err
		}
		b.identity = v
	case sb != nil:
		b.identity = sb
	default:
		logger.Warn("no identity provider configured; authenticated routes will reject")
	}

	if !cfg.StorageConfigured() {
		logger.Warn("object storage not configured", zap.String("driver", cfg.Storage.Driver))
		return b, nil
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "s3":
		s3, err := objectstore.NewS3FromEnv(ctx, cfg.Storage.S3Bucket, cfg.Storage.Region)
		if err != nil {
			return nil, err
		}
		b.objects = s3
	case "supabase":
		if sb != nil && sb.StorageConfigured() {
			b.objects = sb
			b.visibility = sb
		}
	}
	return b, nil
}
