package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/agents"
	"github.com/lmnhd/keyvex-sub008/internal/ai"
	"github.com/lmnhd/keyvex-sub008/internal/artifacts"
	"github.com/lmnhd/keyvex-sub008/internal/auth"
	"github.com/lmnhd/keyvex-sub008/internal/cache"
	"github.com/lmnhd/keyvex-sub008/internal/config"
	"github.com/lmnhd/keyvex-sub008/internal/db"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
	"github.com/lmnhd/keyvex-sub008/internal/middleware"
	"github.com/lmnhd/keyvex-sub008/internal/orchestration"
	"github.com/lmnhd/keyvex-sub008/internal/producttools"
	"github.com/lmnhd/keyvex-sub008/internal/progress"
	"github.com/lmnhd/keyvex-sub008/internal/prompts"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// closer is a trigger that drains on shutdown.
type closer interface {
	Close(ctx context.Context) error
}

func main() {
	config.LoadDotEnv()
	logging.Init()
	defer logging.Sync()
	log := logging.L()
	log.Info("starting Keyvex tool generation service")

	appConfig := config.Load()
	if appConfig.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Bind the port before slow initialization so health checks succeed
	// while the database and providers come up.
	var startupReady atomic.Bool
	var activeRouter atomic.Value // *gin.Engine

	bootstrapRouter := gin.New()
	bootstrapRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "starting", "ready": startupReady.Load()})
	})
	bootstrapRouter.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "server starting", "ready": startupReady.Load()})
	})
	activeRouter.Store(bootstrapRouter)

	serverErrors := make(chan error, 1)
	httpServer := &http.Server{
		Addr:              ":" + appConfig.Port,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			activeRouter.Load().(*gin.Engine).ServeHTTP(w, r)
		}),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	log.Info("bootstrap listener started", zap.String("port", appConfig.Port))

	secretsConfig, err := config.ValidateAndLogSecrets()
	if err != nil {
		log.Fatal("invalid secrets configuration", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Secret:       secretsConfig.AuthJWTSecret,
		OldSecret:    secretsConfig.AuthJWTSecretOld,
		PublicKeyPEM: secretsConfig.AuthJWTPublicKey,
		Issuer:       os.Getenv("AUTH_JWT_ISSUER"),
	})
	if err != nil {
		log.Fatal("failed to build token verifier", zap.Error(err))
	}

	database, err := db.NewDatabase(&db.Config{URL: appConfig.DatabaseURL, SQLitePath: appConfig.SQLitePath})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	// Redis backs the job store and the tool cache when configured.
	var redisClient *db.RedisClient
	if appConfig.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		redisClient, err = db.NewRedisClient(ctx, db.RedisConfigFromURL(appConfig.RedisURL))
		cancel()
		if err != nil {
			if appConfig.IsProduction() {
				log.Fatal("failed to connect to redis", zap.Error(err))
			}
			log.Warn("redis unavailable, using in-memory job store and cache", zap.Error(err))
			redisClient = nil
		}
	}

	var jobs tcc.Store
	toolCacheConfig := &cache.CacheConfig{
		Name:            "product_tools",
		DefaultTTL:      5 * time.Minute,
		MaxMemoryItems:  5000,
		CleanupInterval: time.Minute,
	}
	var toolRedisCache *cache.RedisCache
	if redisClient != nil {
		jobs = tcc.NewRedisStore(redisClient.Client(), appConfig.TCCTTL)
		toolRedisCache = cache.NewRedisCacheFromClient(redisClient.Client(), toolCacheConfig)
	} else {
		jobs = tcc.NewMemoryStore()
		toolRedisCache = cache.NewRedisCache(toolCacheConfig)
	}
	defer toolRedisCache.Close()

	storage, err := artifacts.New(context.Background(), appConfig)
	if err != nil {
		log.Fatal("failed to initialize artifact storage", zap.Error(err))
	}
	log.Info("artifact storage ready", zap.String("backend", appConfig.ArtifactStorage))

	repo := producttools.NewRepository(database.DB, cache.NewToolCache(toolRedisCache, toolCacheConfig.DefaultTTL))
	publisher := producttools.NewPublisher(repo, storage)

	// Progress: every event is recorded in the fallback history and pushed
	// to connected sockets.
	history := progress.NewFallback(appConfig.ProgressHistorySize)
	hub := progress.NewHub(appConfig.CORSAllowedOrigins)
	emitter := progress.Multi{history, hub}

	promptManager, err := prompts.New()
	if err != nil {
		log.Fatal("failed to load prompts", zap.Error(err))
	}
	if appConfig.PromptsFile != "" {
		if err := promptManager.LoadFile(appConfig.PromptsFile); err != nil {
			log.Fatal("failed to load prompt overrides", zap.String("path", appConfig.PromptsFile), zap.Error(err))
		}
	}

	routerConfig := ai.DefaultRouterConfig()
	for provider := range routerConfig.RateLimits {
		routerConfig.RateLimits[provider] = appConfig.ProviderRPM
	}
	if appConfig.DefaultModel != "" {
		routerConfig.DefaultModel = appConfig.DefaultModel
	}
	aiRouter := ai.NewAIRouterFromKeys(context.Background(), routerConfig,
		secretsConfig.AnthropicAPIKey, secretsConfig.OpenAIAPIKey, secretsConfig.GeminiAPIKey)
	modelRegistry := ai.NewModelRegistry(appConfig.DefaultModel, aiRouter.Providers())
	log.Info("model providers configured", zap.Any("providers", aiRouter.Providers()))

	retryPolicy := agents.DefaultRetryPolicy()
	retryPolicy.MaxAttempts = appConfig.AgentMaxAttempts
	registry := agents.NewRegistry(
		agents.NewInteractionManager(aiRouter, promptManager, modelRegistry),
		agents.NewRetryManager(retryPolicy, modelRegistry, emitter),
	)

	orch := orchestration.New(jobs, registry, emitter, publisher, orchestration.Options{AgentTimeout: appConfig.AgentTimeout})
	var trigger closer
	switch appConfig.OrchestrationMode {
	case config.OrchestrationInProcess:
		t := orchestration.NewInProcessTrigger(orch, appConfig.TriggerWorkers)
		orch.SetTrigger(t)
		trigger = t
	default:
		t := orchestration.NewHTTPTrigger(appConfig.PublicBaseURL, secretsConfig.InternalAPIToken,
			&http.Client{Timeout: appConfig.AgentTimeout + time.Minute})
		orch.SetTrigger(t)
		trigger = t
	}
	log.Info("orchestration ready",
		zap.String("mode", appConfig.OrchestrationMode),
		zap.String("public_base_url", appConfig.PublicBaseURL),
	)

	limiter := middleware.NewPerMinute(appConfig.RateLimitRPM, max(1, appConfig.RateLimitRPM/10))

	bgCtx, stopBackground := context.WithCancel(context.Background())
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		hub.Run(bgCtx)
	}()
	go func() {
		defer background.Done()
		sweep(bgCtx, time.Minute, func(now time.Time) {
			limiter.Sweep(now)
			if n := history.Sweep(now.Add(-appConfig.TCCTTL)); n > 0 {
				log.Debug("swept progress histories", zap.Int("count", n))
			}
		})
	}()

	router := setupRoutes(appConfig, secretsConfig, routeDeps{
		verifier:  verifier,
		limiter:   limiter,
		database:  database,
		redis:     redisClient,
		orch:      orchestration.NewHandler(orch),
		tools:     producttools.NewHandler(repo, storage),
		progress:  progress.NewHandler(hub, history, jobs),
		providers: aiRouter.Providers(),
	})
	activeRouter.Store(router)
	startupReady.Store(true)
	log.Info("server ready", zap.String("port", appConfig.Port), zap.Bool("production", secretsConfig.IsProduction))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErrors:
		log.Fatal("server failed", zap.Error(err))
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. stop accepting requests and drain in-flight ones
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown", zap.Error(err))
	}
	// 2. drain queued orchestration work
	if err := trigger.Close(shutdownCtx); err != nil {
		log.Warn("orchestration trigger shutdown", zap.Error(err))
	}
	// 3. close sockets and stop sweepers
	stopBackground()
	background.Wait()
	if redisClient != nil {
		redisClient.Close()
	}
	log.Info("shutdown complete")
}

// sweep calls fn every interval until ctx is done.
func sweep(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			fn(now)
		case <-ctx.Done():
			return
		}
	}
}

type routeDeps struct {
	verifier  *auth.Verifier
	limiter   *middleware.IPRateLimiter
	database  *db.Database
	redis     *db.RedisClient
	orch      *orchestration.Handler
	tools     *producttools.Handler
	progress  *progress.Handler
	providers []ai.AIProvider
}

func setupRoutes(appConfig *config.AppConfig, secretsConfig *config.SecretsConfig, deps routeDeps) *gin.Engine {
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS(appConfig.CORSAllowedOrigins))
	router.Use(middleware.Security())

	if appConfig.EnableMetrics {
		router.Use(metrics.PrometheusMiddleware())
		router.GET("/metrics", metrics.PrometheusHandler())
	}
	router.GET("/health", healthHandler(deps))

	internalToken := secretsConfig.InternalAPIToken
	requireAuth := middleware.RequireAuth(deps.verifier)

	api := router.Group("", middleware.RateLimit(deps.limiter, internalToken))
	deps.orch.RegisterRoutes(api, orchestration.Auth{
		User:           requireAuth,
		Internal:       middleware.InternalAuth(internalToken),
		UserOrInternal: middleware.RequireUserOrInternal(deps.verifier, internalToken),
	})
	deps.tools.RegisterRoutes(api, requireAuth)
	deps.progress.RegisterRoutes(api, requireAuth)

	return router
}

func healthHandler(deps routeDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		body := gin.H{
			"status":    "healthy",
			"ready":     true,
			"providers": deps.providers,
			"database":  deps.database.GetStats(),
		}
		if err := deps.database.Health(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["database_error"] = err.Error()
		}
		if deps.redis != nil {
			body["redis"] = deps.redis.Health(c.Request.Context())
		}
		c.JSON(status, body)
	}
}
