/**
 * @description
 * This is the main entry point for the transfer-service. It is responsible
 * for initializing all components of the service: configuration, the
 * database connection pool, the bus producer and consumer, the handler
 * registrar and the operational HTTP server. It wires everything together
 * and runs until a shutdown signal arrives.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: For HTTP routing.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: To load .env files for local development.
 * - github.com/robfig/cron/v3: Periodic participant handler refresh.
 * - internal/api, internal/app, internal/bus, internal/config,
 *   internal/store, internal/validation, pkg/rabbitmq.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/interpay/transfer-service/internal/api"
	"github.com/interpay/transfer-service/internal/app"
	"github.com/interpay/transfer-service/internal/bus"
	"github.com/interpay/transfer-service/internal/config"
	"github.com/interpay/transfer-service/internal/store"
	"github.com/interpay/transfer-service/internal/validation"
	"github.com/interpay/transfer-service/pkg/rabbitmq"
)

func main() {
	// Load a local .env file when present; environment variables win.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment\"")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer-service\" port=%s exchange=%s", cfg.ServerPort, cfg.BusExchange)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// The producer and consumer hold separate connections so a blocked
	// publish can never stall message delivery.
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq producer init failed\" err=%v", err)
	}
	defer producer.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer consumer.Close()
	log.Println("level=info component=bootstrap msg=\"rabbitmq connected\"")

	repository := store.NewPostgresRepository(dbpool)
	gateway := bus.NewRabbitGateway(producer, consumer, cfg.BusExchange)

	resolver := app.NewDuplicateResolver(repository)
	validator := validation.NewValidator(repository, cfg.Currencies())

	prepare := app.NewPrepareCoordinator(repository, gateway, resolver, validator)
	fulfil := app.NewFulfilCoordinator(repository, gateway)
	router := app.NewTransferEventRouter(gateway)

	options := func(action string) bus.ConsumerOptions {
		settings := cfg.ConsumerSettingsFor(action)
		return bus.ConsumerOptions{Prefetch: settings.Prefetch, AutoCommit: settings.AutoCommit}
	}
	registrar := app.NewRegistrar(repository, gateway, options, prepare, fulfil, router)

	if err := registrar.RegisterAllHandlers(context.Background()); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"handler registration failed\" err=%v", err)
	}

	// Periodically pick up participants onboarded after startup; handler
	// registration is idempotent per topic.
	if schedule := strings.TrimSpace(cfg.ParticipantRefreshCron); schedule != "" {
		scheduler := cron.New()
		_, err := scheduler.AddFunc(schedule, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := registrar.RegisterPrepareHandlers(ctx); err != nil {
				log.Printf("level=error component=registrar msg=\"participant refresh failed\" err=%v", err)
			}
		})
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"invalid participant refresh schedule\" schedule=%q err=%v", schedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Printf("level=info component=bootstrap msg=\"participant refresh scheduled\" schedule=%q", schedule)
	}

	// Operational HTTP surface: health plus internal transfer lookup.
	handlers := api.NewTransferHandlers(repository, cfg.InternalAPIKey)
	httpRouter := chi.NewRouter()
	httpRouter.Mount("/", api.Routes(handlers))

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: httpRouter,
	}

	go func() {
		log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=bootstrap msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}

	log.Println("level=info component=bootstrap msg=\"shutdown complete\"")
}
