package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/agrovale/bbhook/api"
	"github.com/agrovale/bbhook/cache"
	"github.com/agrovale/bbhook/config"
	"github.com/agrovale/bbhook/db"
	"github.com/agrovale/bbhook/middleware"
	"github.com/agrovale/bbhook/services"
	"github.com/agrovale/bbhook/stores"
	"github.com/agrovale/bbhook/utils"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorBold   = "\033[1m"
)

func printStep(step, message string) {
	fmt.Printf("%s[%s]%s %s%s%s\n", colorBlue, step, colorReset, colorBold, message, colorReset)
}

func printSuccess(message string) {
	fmt.Printf("%s✓%s %s\n", colorGreen, colorReset, message)
}

func printWarning(message string) {
	fmt.Printf("%s⚠%s %s\n", colorYellow, colorReset, message)
}

func printError(message string) {
	fmt.Printf("%s✗%s %s\n", colorRed, colorReset, message)
}

func main() {
	printStep("1/7", "Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError(fmt.Sprintf("Configuration validation failed: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Configuration loaded (environment: %s)", cfg.Environment))

	printStep("2/7", "Connecting to database...")
	gormDB, err := gorm.Open(postgres.Open(cfg.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		printError(fmt.Sprintf("Failed to connect to database: %v", err))
		os.Exit(1)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		printError(fmt.Sprintf("Failed to get database instance: %v", err))
		os.Exit(1)
	}
	defer sqlDB.Close()

	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := db.RunMigrations(gormDB); err != nil {
		printError(fmt.Sprintf("Failed to run migrations: %v", err))
		os.Exit(1)
	}
	printSuccess(fmt.Sprintf("Connected to PostgreSQL at %s:%d", cfg.Database.Host, cfg.Database.Port))

	printStep("3/7", "Connecting to Redis...")
	var locks services.BatchLocker
	redisCache, err := cache.CreateRedisCache(cache.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.TTL,
	})
	if err != nil {
		printWarning(fmt.Sprintf("Redis unavailable: %v (batch locks stay in-process)", err))
		locks = services.NewKeyedMutex()
	} else {
		defer redisCache.Close()
		locks = services.NewRedisBatchLocker(redisCache)
		printSuccess(fmt.Sprintf("Connected to Redis at %s:%d", cfg.Redis.Host, cfg.Redis.Port))
	}

	printStep("4/7", "Initializing stores and services...")
	webhookStore := stores.CreateWebhookStore(gormDB)
	paymentStore := stores.CreatePaymentStore(gormDB)

	dispatcher := services.CreateDispatcher(webhookStore)
	dispatcher.Register(services.ResourcePayments, services.CreatePaymentReconciler(paymentStore, locks))

	queue := services.CreateQueue(dispatcher, cfg.Queue.Workers, cfg.Queue.BufferSize)
	queue.Start()

	intake := services.CreateIntake(webhookStore, queue)
	printSuccess("Stores and services initialized")

	printStep("5/7", "Configuring trust guard...")
	partners, err := utils.NewPartnerNetworks(cfg.Partner.ProductionCIDRs, cfg.Partner.SandboxCIDRs)
	if err != nil {
		printError(fmt.Sprintf("Invalid partner networks: %v", err))
		os.Exit(1)
	}
	guard := middleware.NewTrustGuard(cfg.Security.EnforceMTLS, cfg.Security.AllowedCertSubjects, partners)
	if cfg.Security.EnforceMTLS {
		printSuccess("Trust guard enforcing mTLS / partner IP checks")
	} else {
		printWarning("Trust guard in monitoring mode (ENFORCE_MTLS=false)")
	}

	printStep("6/7", "Setting up HTTP server...")
	webhookHandler := api.CreateWebhookHandler(intake)
	eventsHandler := api.CreateEventsHandler(webhookStore, queue)

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware)
	router.Use(middleware.RecoveryMiddleware)

	rateLimiter := middleware.NewRateLimiter(cfg.Security.RateLimitRPS, cfg.Security.RateLimitBurst)

	webhookRouter := router.PathPrefix("/api/webhooks/bb").Subrouter()
	webhookRouter.Use(rateLimiter.Middleware)
	webhookRouter.Use(guard.Middleware)
	webhookRouter.HandleFunc("/{recurso}", webhookHandler.HandleBankWebhook).Methods("POST")

	eventsHandler.RegisterRoutes(router)

	server := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	if cfg.Server.EnableTLS {
		tlsConfig, err := buildTLSConfig(cfg)
		if err != nil {
			printError(fmt.Sprintf("Failed to build TLS config: %v", err))
			os.Exit(1)
		}
		server.TLSConfig = tlsConfig
	}
	printSuccess("HTTP server configured")

	printStep("7/7", fmt.Sprintf("Starting server on port %s...", cfg.Server.Port))
	go func() {
		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			printError(fmt.Sprintf("Server failed to start: %v", err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	printWarning("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		printError(fmt.Sprintf("Server forced to shutdown: %v", err))
	}

	// Drain accepted events so none stay PENDING across a clean restart.
	queue.Close()

	printSuccess("Server stopped gracefully")
}

// buildTLSConfig requests client certificates without making them mandatory
// at the handshake: the trust guard decides per request, which keeps
// monitoring mode and the partner-IP fallback possible.
func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ClientAuth: tls.RequestClientCert,
	}

	if cfg.Server.TLSClientCAs != "" {
		pem, err := os.ReadFile(cfg.Server.TLSClientCAs)
		if err != nil {
			return nil, fmt.Errorf("reading client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.Server.TLSClientCAs)
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsConfig, nil
}
