package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"

	"github.com/tjfontaine/agent-relay-gateway/internal/agent"
	"github.com/tjfontaine/agent-relay-gateway/internal/config"
	"github.com/tjfontaine/agent-relay-gateway/internal/relay"
	"github.com/tjfontaine/agent-relay-gateway/internal/report"
	"github.com/tjfontaine/agent-relay-gateway/internal/server"
	"github.com/tjfontaine/agent-relay-gateway/internal/telemetry"
	"github.com/tjfontaine/agent-relay-gateway/internal/tokens"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		log.Fatalf("Invalid log level %q: %v", cfg.Log.Level, err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracer(telemetry.Options{
		ServiceName: "agent-relay-gateway",
		Enabled:     cfg.Telemetry.Enabled,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	if cfg.AWS.Endpoint != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.AWS.Endpoint)
	}

	sessions, err := openSessions(ctx, cfg, awsCfg, logger)
	if err != nil {
		log.Fatalf("Failed to open session store: %v", err)
	}
	defer sessions.Close()

	agentClient := bedrockagentruntime.NewFromConfig(awsCfg, func(o *bedrockagentruntime.Options) {
		o.Region = cfg.AgentRegion()
	})
	bedrock := agent.NewBedrock(agentClient, cfg.Agent.ID, cfg.Agent.AliasID, agent.WithLogger(logger))

	rl := relay.New(bedrock,
		relay.WithMaxRetries(cfg.Relay.MaxRetries),
		relay.WithRetryDelay(cfg.Relay.RetryDelay),
		relay.WithTokenCounter(tokens.NewCounter()),
		relay.WithLogger(logger),
	)

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// Local emulators serve buckets by path rather than by host.
		o.UsePathStyle = cfg.AWS.Endpoint != ""
	})
	reports := report.NewService(sessions, report.NewS3Store(s3Client, cfg.Reports.Bucket), cfg.Reports.Prefix, logger)

	srv := server.New(server.Options{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.Origins(),
		RequestTimeout: cfg.Server.RequestTimeout,
	}, logger, server.NewHandler(rl, reports, logger))

	logger.Info("gateway configured",
		slog.String("agent_id", cfg.Agent.ID),
		slog.String("agent_alias_id", cfg.Agent.AliasID),
		slog.String("agent_region", cfg.AgentRegion()),
		slog.String("sessions_backend", cfg.Sessions.Backend),
		slog.String("reports_bucket", cfg.Reports.Bucket),
		slog.Int("max_retries", cfg.Relay.MaxRetries),
		slog.Duration("retry_delay", cfg.Relay.RetryDelay),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway shutdown complete")
}
