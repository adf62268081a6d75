package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirdesai22/event-service/internal/app"
	"github.com/sirdesai22/event-service/internal/config"
	"github.com/sirdesai22/event-service/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ startup: %v", err)
	}
	defer a.Close()

	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.StartWorkers(ctx)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("🧭 Event API running on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ API listener failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 shutting down")
	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdown); err != nil {
		log.Printf("⚠️ shutdown: %v", err)
	}
}
