package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knowledge-assistant-be/internal/bootstrap"
	"knowledge-assistant-be/internal/config"
	"knowledge-assistant-be/internal/lifecycle"
	"knowledge-assistant-be/internal/server"
	"knowledge-assistant-be/internal/tracer"
	"knowledge-assistant-be/pkg/database"
)

func main() {
	// 1. Configuration (also loads .env for the tracer options)
	cfg := config.Load()

	// Tracer is a no-op unless OTEL_ENABLED=true
	shutdownTracer := tracer.InitTracer(tracer.OptionsFromEnv())
	defer shutdownTracer(context.Background())

	// 2. Initialize Database
	gormDB, err := database.NewGormDBFromDSN(cfg.Database.Connection, database.PoolConfig{
		Verbose: !cfg.IsProduction(),
	})
	if err != nil {
		log.Panicf("Unable to connect to GORM DB: %v", err)
	}

	// 3. Bootstrap Dependencies (Container)
	life := lifecycle.New()
	container, err := bootstrap.NewContainer(gormDB, cfg, life)
	if err != nil {
		log.Fatalf("Bootstrap failed: %v", err)
	}
	defer container.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Initialize Server; it answers /healthz with 503 until step 5 is done
	srv := server.New(cfg, container)
	go func() {
		if err := srv.Run(); err != nil {
			log.Printf("Server stopped: %v", err)
			stop()
		}
	}()

	// 5. Start Background Services
	if err := life.Init(func() error { return container.Start(ctx) }); err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	log.Println("Startup complete, accepting chat turns")

	<-ctx.Done()
	log.Println("Shutting down...")

	done := make(chan struct{})
	go func() {
		if err := srv.Shutdown(); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Println("Shutdown timed out")
	}
}
