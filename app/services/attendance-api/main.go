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

	"github.com/ardanlabs/attendance/app/services/attendance-api/handlers"
	"github.com/ardanlabs/attendance/business/core/attendance"
	"github.com/ardanlabs/attendance/business/core/attendance/stores/attendancedb"
	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/business/core/teacher/stores/teacherdb"
	"github.com/ardanlabs/attendance/business/sys/database"
	"github.com/ardanlabs/attendance/foundation/events"
	"github.com/ardanlabs/attendance/foundation/ledger"
	"github.com/ardanlabs/attendance/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ATTENDANCE-API")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// A .env file is optional. Values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:120s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			APIHost         string        `conf:"default:0.0.0.0:3000"`
			DebugHost       string        `conf:"default:0.0.0.0:4000"`
			CorsOrigin      string        `conf:"default:*"`
			Environment     string        `conf:"default:development"`
		}
		Ledger struct {
			URL               string        `conf:"default:http://127.0.0.1:7545"`
			ArtifactPath      string        `conf:"default:zblock/contracts/AttendanceSystem.json"`
			Attempts          int           `conf:"default:3"`
			Delay             time.Duration `conf:"default:1s"`
			PreflightAttempts int           `conf:"default:5"`
			PreflightDelay    time.Duration `conf:"default:2s"`
			GasLimit          uint64        `conf:"default:500000"`
			ReceiptTimeout    time.Duration `conf:"default:30s"`
		}
		Stamp struct {
			Difficulty int `conf:"default:4"`
		}
		Batch struct {
			Pause time.Duration `conf:"default:1s"`
		}
		DB struct {
			User         string `conf:"default:postgres"`
			Password     string `conf:"default:postgres,mask"`
			Host         string `conf:"default:localhost:5432"`
			Name         string `conf:"default:attendance_system"`
			MaxOpenConns int    `conf:"default:10"`
			DisableTLS   bool   `conf:"default:true"`
			Migrate      bool   `conf:"default:true"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "copyright information here",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "ATTEND"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// The ledger and core packages accept a function of this signature to
	// allow the application to log. These raw messages are also sent to any
	// websocket client that is connected into the system through the events
	// package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(events.Event{Time: time.Now().UTC(), Message: s})
	}

	// =========================================================================
	// Ledger Support

	log.Infow("startup", "status", "waiting for ledger", "url", cfg.Ledger.URL)

	ctx := context.Background()

	networkID, err := ledger.Preflight(ctx, cfg.Ledger.URL, cfg.Ledger.PreflightAttempts, cfg.Ledger.PreflightDelay, ev)
	if err != nil {
		return fmt.Errorf("ledger preflight: %w", err)
	}

	artifact, err := ledger.LoadArtifact(cfg.Ledger.ArtifactPath)
	if err != nil {
		return fmt.Errorf("loading contract artifact: %w", err)
	}

	mgr := ledger.NewManager(ledger.Config{
		URL:            cfg.Ledger.URL,
		Artifact:       artifact,
		Attempts:       cfg.Ledger.Attempts,
		Delay:          cfg.Ledger.Delay,
		GasLimit:       cfg.Ledger.GasLimit,
		ReceiptTimeout: cfg.Ledger.ReceiptTimeout,
		EvHandler:      ev,
	})
	defer mgr.Shutdown()

	session, err := mgr.Initialize(ctx)
	if err != nil {
		return fmt.Errorf("initializing ledger session: %w", err)
	}

	log.Infow("startup", "status", "ledger connected", "network", networkID,
		"admin", session.AdminAccount(), "contract", session.ContractAddress())

	// =========================================================================
	// Database Support

	// The audit store is a best effort mirror of the ledger. The service
	// keeps running without it.
	log.Infow("startup", "status", "initializing database support", "host", cfg.DB.Host)

	var pool *pgxpool.Pool
	var teacherStore teacher.Storer
	var attendStore attendance.Storer

	pool, err = database.Open(ctx, database.Config{
		User:         cfg.DB.User,
		Password:     cfg.DB.Password,
		Host:         cfg.DB.Host,
		Name:         cfg.DB.Name,
		MaxOpenConns: cfg.DB.MaxOpenConns,
		DisableTLS:   cfg.DB.DisableTLS,
	})
	switch {
	case err != nil:
		log.Warnw("startup", "status", "database unavailable, audit store disabled", "ERROR", err)
		pool = nil

	default:
		defer func() {
			log.Infow("shutdown", "status", "stopping database support", "host", cfg.DB.Host)
			pool.Close()
		}()

		if err := database.StatusCheck(ctx, pool); err != nil {
			log.Warnw("startup", "status", "database status check failed", "ERROR", err)
		}

		if cfg.DB.Migrate {
			if err := database.Migrate(ctx, pool); err != nil {
				log.Warnw("startup", "status", "database migration failed", "ERROR", err)
			}
		}

		teacherStore = teacherdb.NewStore(log, pool)
		attendStore = attendancedb.NewStore(log, pool)
	}

	// =========================================================================
	// Core Support

	teacherCore := teacher.NewCore(log, mgr, teacherStore)

	attendCore := attendance.NewCore(attendance.Config{
		Log:        log,
		Ledger:     mgr,
		Verifier:   teacherCore,
		Storer:     attendStore,
		Difficulty: cfg.Stamp.Difficulty,
		Pause:      cfg.Batch.Pause,
		EvHandler:  ev,
	})

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, pool, mgr)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Start API Service

	log.Infow("startup", "status", "initializing V1 API support")

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Construct the mux for the API calls.
	apiMux := handlers.APIMux(handlers.MuxConfig{
		Shutdown:    shutdown,
		Log:         log,
		Environment: cfg.Web.Environment,
		CorsOrigin:  cfg.Web.CorsOrigin,
		Attendance:  attendCore,
		Teacher:     teacherCore,
		Ledger:      mgr,
		Evts:        evts,
	})

	// Construct a server to service the requests against the mux.
	api := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      apiMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "api router started", "host", api.Addr)
		serverErrors <- api.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		if err := api.Shutdown(ctx); err != nil {
			api.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
