package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"contractflow/auth"
	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/config"
	"contractflow/contract"
	"contractflow/db"
	"contractflow/dispute"
	"contractflow/escrow"
	"contractflow/generate"
	"contractflow/journal"
	"contractflow/kyc"
	"contractflow/logging"
	"contractflow/marketplace"
	"contractflow/negotiation"
	"contractflow/signature"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "contractflow: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New("contractflow", logging.Settings{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	recorder, closeJournal, err := openJournal(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	gen := generate.Pick(generate.Config{
		BaseURL:   cfg.Generator.BaseURL,
		Model:     cfg.Generator.Model,
		APIKeyEnv: cfg.Generator.APIKeyEnv,
		Timeout:   cfg.Generator.Timeout,
	})
	srv := newServer(cat, gen, recorder, logger, serverOptions{
		JWTSecret: cfg.Auth.JWTSecret,
		TokenTTL:  cfg.Auth.TokenTTL,
		FeeBPS:    int(cfg.Payments.FeeBPS),
	})

	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTP.Addr).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		logger.Info("http server shutting down")
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openJournal connects the Postgres journal when a database URL is set,
// applying migrations first when asked. Without one events are dropped.
func openJournal(ctx context.Context, cfg config.DatabaseConfig, logger logrus.FieldLogger) (journal.Recorder, func(), error) {
	if cfg.URL == "" {
		logger.Warn("database.url not set, journal disabled")
		return journal.Nop(), func() {}, nil
	}
	if cfg.Migrate {
		if err := db.Migrate(cfg.URL); err != nil {
			return nil, nil, err
		}
	}
	pool, err := db.NewPool(ctx, cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	return journal.NewPostgres(pool, nil), pool.Close, nil
}

type serverOptions struct {
	JWTSecret string
	TokenTTL  time.Duration
	FeeBPS    int
	Clock     clock.Clock
}

// newServer wires every service on top of one catalog, generator and journal.
func newServer(cat *catalog.Catalog, gen generate.Generator, recorder journal.Recorder, logger logrus.FieldLogger, opts serverOptions) *Server {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	directory := marketplace.NewDirectory(cat)

	return &Server{
		catalog:      cat,
		generator:    gen,
		logger:       logger,
		authService:  auth.NewService(auth.NewRepository(), opts.JWTSecret).WithClock(clk.Now).WithTokenTTL(opts.TokenTTL),
		kyc:          kyc.NewService(cat, recorder).WithClock(clk).WithLogger(logger),
		contracts:    contract.NewService(cat, gen, recorder).WithClock(clk.Now).WithLogger(logger),
		negotiations: negotiation.NewService(recorder).WithClock(clk.Now).WithLogger(logger),
		signatures:   signature.NewService(cat, recorder).WithClock(clk).WithLogger(logger),
		escrows:      escrow.NewService(cat, recorder).WithClock(clk).WithLogger(logger).WithFeeBPS(opts.FeeBPS),
		disputes:     dispute.NewService(dispute.NewRepository(), recorder).WithClock(clk.Now).WithLogger(logger),
		directory:    directory,
		marketplace:  marketplace.NewService(directory, cat, recorder).WithClock(clk).WithLogger(logger),
	}
}
