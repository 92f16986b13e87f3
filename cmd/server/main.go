package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"relay-os/backend/internal/api"
	"relay-os/backend/internal/auth"
	"relay-os/backend/internal/config"
	"relay-os/backend/internal/engine"
	"relay-os/backend/internal/lifecycle"
	"relay-os/backend/internal/logging"
	"relay-os/backend/internal/mcp"
	"relay-os/backend/internal/repository"
	"relay-os/backend/internal/tls"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "relay-server",
		Short: "Relay OS backend server",
		Long:  "Runs the Relay OS workflow and request service, exposing the REST API and MCP endpoints.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func runServer(ctx context.Context) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("configuration loading failed: %w", err)
	}
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"db_host", cfg.DB.Host,
		"config_file", viper.ConfigFileUsed(),
	)

	logger.Info("Starting Relay OS Service")

	// Initialize storage. An empty DB host runs everything in memory, which
	// is enough for local development with the auth bypass.
	var (
		workflows repository.WorkflowRepository
		requests  repository.RequestRepository
		logs      repository.AuditLogRepository
		users     repository.UserRepository
	)
	if cfg.DB.Host == "" {
		logger.Info("No database configured, using in-memory stores")
		workflows = repository.NewMemoryWorkflowStore()
		requests = repository.NewMemoryRequestStore()
		logs = repository.NewMemoryAuditLogStore()
		users = repository.NewMemoryUserStore()
	} else {
		dbPool, err := initDatabase(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("database initialization failed: %w", err)
		}
		defer dbPool.Close()
		logger.Info("Database connected")

		workflows = repository.NewPostgresWorkflowStore(dbPool)
		requests = repository.NewPostgresRequestStore(dbPool)
		logs = repository.NewPostgresAuditLogStore(dbPool)
		users = repository.NewPostgresUserStore(dbPool)
	}

	// Initialize service layer
	eng := engine.New(nil)
	service := lifecycle.NewService(workflows, requests, logs, eng, nil, logger)

	logger.Info("Service layer initialized")

	// Create Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("relay-backend"))

	// Initialize authentication
	authz, err := auth.New(ctx, cfg, users, logger)
	if err != nil {
		return fmt.Errorf("auth initialization failed: %w", err)
	}

	// Register auth handlers
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	// Mount REST API handlers behind the auth middleware
	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, api.NewServer(service, workflows, users))

	logger.Info("REST API handlers mounted")

	// Mount MCP protocol handlers
	mcpServer := mcp.NewServer(service, users)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp/*", echo.WrapHandler(mcpHandlers))

	logger.Info("MCP protocol handlers mounted")

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	if cfg.TLS.Enable {
		addr = ":8443"
	}
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		if cfg.TLS.Enable {
			if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
				logger.Error("TLS enabled but cert/key file not provided")
				serverErrors <- server.ListenAndServe()
				return
			}
			// generate if missing and hostnames provided
			if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
				if len(cfg.TLS.Hostnames) > 0 {
					if err := tls.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
						logger.Error("failed to generate self-signed cert", "error", err)
					}
				}
			}
			serverErrors <- server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			serverErrors <- server.ListenAndServe()
		}
	}()

	// Wait for shutdown signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		logger.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := server.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}

		logger.Info("Server stopped gracefully")
	}
	return nil
}

func initDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*pgxpool.Pool, error) {
	logger.Debug("Initializing database connection")

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
