// main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/ariebrainware/tcm-diagnosis/calllog"
	"github.com/ariebrainware/tcm-diagnosis/config"
	"github.com/ariebrainware/tcm-diagnosis/consultation"
	"github.com/ariebrainware/tcm-diagnosis/endpoint"
	"github.com/ariebrainware/tcm-diagnosis/llm"
	"github.com/ariebrainware/tcm-diagnosis/middleware"
	"github.com/ariebrainware/tcm-diagnosis/util"
)

func main() {
	// Load the configuration
	cfg := config.LoadConfig()
	logger := util.NewLogger(cfg.AppEnv)

	db, err := config.ConnectMySQL()
	if err != nil {
		logger.Fatal().Err(err).Msg("error connecting to MySQL")
	}
	store := consultation.NewStore(db)
	if err := store.AutoMigrate(); err != nil {
		logger.Fatal().Err(err).Msg("auto migrate failed")
	}

	rdb, err := config.ConnectRedis()
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, continuing without status cache and rate limiting")
	}

	calls := calllog.New(calllog.Options{
		Dir:      cfg.APILog.Dir,
		MaxBytes: cfg.APILog.MaxBytes,
		Enabled:  cfg.APILog.Enabled,
		Archiver: newArchiver(cfg.APILog.ArchiveBucket, logger),
		Logger:   logger.With().Str("component", "calllog").Logger(),
	})

	client := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		APIURL:      cfg.LLM.APIURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxRetries:  cfg.LLM.MaxRetries,
		RetryDelay:  cfg.LLM.RetryDelay,
		Timeout:     cfg.LLM.Timeout,
		Referer:     cfg.LLM.AppURL,
		Title:       cfg.LLM.AppTitle,
	}, llm.NewRateLimiter(cfg.LLM.RequestInterval), calls, logger)

	signer := util.NewReportSigner(cfg.JWTSecret, util.DefaultReportTokenTTL)
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWTSECRET is empty, report links are disabled")
	}

	services := &middleware.Services{
		Consultations: consultation.NewService(
			store,
			client,
			consultation.NewStatusCache(rdb, consultation.DefaultStatusTTL, logger),
			signer,
			logger,
		),
		CallLog: calls,
		AI:      client,
		Reports: signer,
	}

	// Set Gin mode from config
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.EndpointCallLogger(logger))
	router.Use(middleware.ServicesMiddleware(services))

	// Basic HTTP handler for root path
	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": fmt.Sprintf("Welcome to %s!", cfg.AppName),
		})
	})

	endpoint.RegisterRoutes(router, middleware.RateLimiter(middleware.RateLimitConfig{
		Limit:  10,
		Window: time.Minute,
		Logger: logger,
	}))

	// Start server on specified port
	address := fmt.Sprintf(":%d", cfg.AppPort)
	logger.Info().Str("address", address).Msg("starting server")
	if err := router.Run(address); err != nil {
		logger.Fatal().Err(err).Msg("error starting server")
	}
}

// newArchiver returns the S3 archiver for rotated audit logs, or nil when no
// bucket is configured.
func newArchiver(bucket string, logger zerolog.Logger) calllog.Archiver {
	if bucket == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	archiver, err := calllog.NewS3Archiver(ctx, bucket, "api-logs")
	if err != nil {
		logger.Warn().Err(err).Str("bucket", bucket).Msg("audit log archiving disabled")
		return nil
	}
	return archiver
}
