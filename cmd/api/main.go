package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"caselink.org/internal/httpapi"
	"caselink.org/internal/obs"
	"caselink.org/internal/securelink"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("CASELINK_COMMIT"))

	devMode := os.Getenv("CASELINK_ENV") == "dev"

	// Postgres backs the link store and the /readyz probe. Without a DSN the
	// service runs on the in-memory store, which is only acceptable in dev.
	var (
		db    *sql.DB
		store securelink.Store
	)
	if dsn := os.Getenv("CASELINK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		store = securelink.NewPGStore(db)
	} else {
		if !devMode {
			log.Fatal("CASELINK_PG_DSN is required outside dev mode")
		}
		log.Println("no CASELINK_PG_DSN set, using in-memory store")
		store = securelink.NewInMemory()
	}

	opts := []securelink.ServiceOption{
		securelink.WithAsyncAudit(256),
	}
	if origin := os.Getenv("CASELINK_BASE_ORIGIN"); origin != "" {
		opts = append(opts, securelink.WithBaseOrigin(origin))
	}
	links := securelink.NewService(store, opts...)

	api := httpapi.New(
		httpapi.ReadyProbe{DB: db},
		version,
		links,
		os.Getenv("CASELINK_ADMIN_TOKEN"),
		devMode,
	)

	addr := os.Getenv("CASELINK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting caselink-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	links.Close() // drain pending access-log writes
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
