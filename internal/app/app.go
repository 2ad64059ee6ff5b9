package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/loopline-social/guardpost/internal/config"
	"github.com/loopline-social/guardpost/internal/db"
	"github.com/loopline-social/guardpost/internal/devicerisk"
	"github.com/loopline-social/guardpost/internal/httpapi"
	"github.com/loopline-social/guardpost/internal/invites"
	"github.com/loopline-social/guardpost/internal/jobs"
	"github.com/loopline-social/guardpost/internal/quota"
	"github.com/loopline-social/guardpost/internal/trust"

	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the trust control server with database-backed components.
func RunServer(ctx context.Context, cfg config.AppConfig, defaultPort int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	fileCfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	dsn := fileCfg.Database.DSN
	if dsn == "" {
		return config.ErrMissingDatabaseDSN
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	port := fileCfg.Server.Port
	if defaultPort > 0 {
		port = defaultPort
	}

	counters := quota.NewManager(fileCfg.Redis, nil, nil)
	limiter := quota.NewLimiter(counters, nil)
	engine := trust.NewEngine(conn, nil)
	correlator := devicerisk.NewCorrelator(conn, nil)
	ledger := invites.NewLedger(conn, engine, nil)

	recomputer := jobs.NewAgeRecomputer(conn, fileCfg.Trust.AgeRecomputeInterval.Std(), nil)
	go recomputer.Run(ctx)

	router := httpapi.NewRouter(httpapi.Services{
		DB:         conn,
		Trust:      engine,
		Limiter:    limiter,
		Correlator: correlator,
		Ledger:     ledger,
		JWT:        fileCfg.JWT,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", port).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			return errShutdown
		}
		return nil
	case errServe := <-errCh:
		if errors.Is(errServe, http.ErrServerClosed) {
			return nil
		}
		return errServe
	}
}
