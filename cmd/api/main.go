package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"escrowflow/auth"
	"escrowflow/authority"
	"escrowflow/db"
	"escrowflow/escrow"
	"escrowflow/outbox"
	"escrowflow/verification"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		return err
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return errors.New("JWT_SECRET is required")
	}

	authSvc := auth.NewService(auth.NewRepository(pool), jwtSecret)
	authoritySvc := authority.NewService(authority.NewRepository(pool))
	factsSvc := verification.NewService(verification.NewRepository(pool))

	if admin := os.Getenv("ADMIN_PRINCIPAL"); admin != "" {
		if err := authoritySvc.EnsureAdmin(ctx, admin); err != nil {
			return err
		}
	}

	escrowSvc := escrow.NewService(pool, escrow.NewRepository(pool), authoritySvc)
	if os.Getenv("REQUIRE_VERIFIED_CONTRACTOR") == "true" {
		escrowSvc.RequireVerifiedContractors(verification.ContractorGate{Facts: factsSvc})
	}
	if os.Getenv("REQUIRE_VERIFIED_MILESTONES") == "true" {
		escrowSvc.RequireVerifiedMilestones(verification.MilestoneGate{Facts: factsSvc})
	}

	server := &Server{
		escrowService:    escrowSvc,
		authService:      authSvc,
		authorityService: authoritySvc,
		factsService:     factsSvc,
		logger:           logger,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	relay := outbox.NewRelay(pool, outbox.LogPublisher{Logger: logger}, logger, time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
