package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"confhub.org/internal/auth"
	"confhub.org/internal/conference"
	"confhub.org/internal/config"
	"confhub.org/internal/httpapi"
	"confhub.org/internal/notify"
	"confhub.org/internal/obs"
	"confhub.org/internal/registration"
	"confhub.org/internal/store/memory"
	"confhub.org/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

const (
	probeInterval = 15 * time.Second
	purgeInterval = time.Hour
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFHUB_CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		obs.Logger().Fatal().Err(err).Msg("confhub-api stopped")
	}
}

// stores bundles the persistence ports of whichever backend is configured.
type stores struct {
	accounts      auth.AccountStore
	conferences   conference.Store
	registrations registration.Store
	reader        registration.ConferenceReader
	revocations   auth.RevocationStore
	db            *sql.DB
	close         func() error
}

func openStores(dsn string) (stores, error) {
	if dsn == "" {
		obs.Logger().Warn().Msg("db.dsn is empty, using the in-memory store")
		mem := memory.New()
		return stores{
			accounts:      mem,
			conferences:   mem,
			registrations: mem,
			reader:        mem,
			revocations:   auth.NewMemoryRevocations(),
			close:         func() error { return nil },
		}, nil
	}
	st, err := pg.Open(dsn)
	if err != nil {
		return stores{}, err
	}
	return stores{
		accounts:      st,
		conferences:   st,
		registrations: st,
		reader:        st,
		revocations:   st,
		db:            st.DB(),
		close:         st.Close,
	}, nil
}

func newNotifier(cfg config.Config) (notify.Dispatcher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Notify.Mode {
	case config.NotifySMTP:
		m, err := notify.NewMailer(mailConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		return m, noop, nil
	case config.NotifyAMQP:
		p, err := notify.DialPublisher(notify.AMQPConfig{URL: cfg.AMQP.URL, Exchange: cfg.AMQP.Exchange, Queue: cfg.AMQP.Queue})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		return notify.LogDispatcher{}, noop, nil
	}
}

func mailConfig(cfg config.Config) notify.MailConfig {
	return notify.MailConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		BaseURL:  cfg.Public.BaseURL,
	}
}

func traceWriter(path string) (io.Writer, func() error, error) {
	if path == "" {
		return os.Stderr, func() error { return nil }, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open trace file: %w", err)
	}
	return f, f.Close, nil
}

// buildAPI wires the domain services over st, applies the startup bootstrap
// and returns the HTTP layer.
func buildAPI(ctx context.Context, cfg config.Config, st stores, notifier notify.Dispatcher, probe httpapi.ReadyProbe) (*httpapi.API, error) {
	tokens, err := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	authSvc, err := auth.NewService(st.accounts, tokens, auth.WithRevocationStore(st.revocations))
	if err != nil {
		return nil, err
	}
	proxies, err := httpapi.ParseTrustedProxies(cfg.HTTP.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("http.trusted_proxies: %w", err)
	}

	svc := httpapi.Services{
		Auth:        authSvc,
		Accounts:    auth.NewAccountService(st.accounts),
		Conferences: conference.NewService(st.conferences),
		Workflow:    registration.NewWorkflow(st.registrations, st.reader, notifier),
	}
	if err := bootstrap(ctx, cfg.Auth.BootstrapAdmin, st.db == nil, svc.Accounts, svc.Conferences); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return httpapi.New(svc, probe, version,
		httpapi.WithRateLimit(cfg.HTTP.RateBurst, cfg.HTTP.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		httpapi.WithAllowedOrigins(cfg.HTTP.AllowOrigins),
		httpapi.WithTrustedProxies(proxies),
	), nil
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	obs.SetLevel(cfg.Log.Level)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	traceOut, closeTrace, err := traceWriter(cfg.Tracing.File)
	if err != nil {
		return err
	}
	defer func() { _ = closeTrace() }()
	shutdownTracing, err := obs.InitTracing(obs.TracingConfig{Enabled: cfg.Tracing.Enabled, SampleRate: cfg.Tracing.SampleRate}, traceOut)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	notifier, closeNotifier, err := newNotifier(cfg)
	if err != nil {
		return fmt.Errorf("notifier: %w", err)
	}
	defer func() { _ = closeNotifier() }()

	probe := httpapi.ReadyProbe{DB: st.db}
	api, err := buildAPI(ctx, cfg, st, notifier, probe)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		obs.Logger().Info().Str("addr", srv.Addr).Str("version", version).Str("notify_mode", cfg.Notify.Mode).Msg("starting confhub-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCHealth(probe)
		health.Register(grpcSrv)
		go health.Run(ctx, probeInterval)
		go func() {
			obs.Logger().Info().Str("addr", cfg.GRPC.Addr).Msg("starting grpc health")
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	if purger, ok := st.revocations.(interface {
		PurgeRevocations(context.Context) (int64, error)
	}); ok {
		go purgeRevocations(ctx, purger.PurgeRevocations)
	}

	select {
	case <-ctx.Done():
		obs.Logger().Info().Msg("shutting down")
	case err := <-errCh:
		obs.Logger().Error().Err(err).Msg("server failed, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		obs.Logger().Warn().Err(err).Msg("http shutdown")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		obs.Logger().Warn().Err(err).Msg("tracing shutdown")
	}
	obs.Logger().Info().Msg("stopped")
	return nil
}

func purgeRevocations(ctx context.Context, purge func(context.Context) (int64, error)) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := purge(ctx)
			if err != nil {
				obs.Logger().Warn().Err(err).Msg("purge revoked tokens")
				continue
			}
			if n > 0 {
				obs.Logger().Debug().Int64("purged", n).Msg("purged revoked tokens")
			}
		}
	}
}
