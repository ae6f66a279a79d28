// Package main provides the API server entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lllypuk/userfeed/internal/config"
	httphandler "github.com/lllypuk/userfeed/internal/handler/http"
	wshandler "github.com/lllypuk/userfeed/internal/handler/websocket"
	"github.com/lllypuk/userfeed/internal/infrastructure/fetcher"
	"github.com/lllypuk/userfeed/internal/infrastructure/github"
	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagecache"
	"github.com/lllypuk/userfeed/internal/infrastructure/imagestore"
	"github.com/lllypuk/userfeed/internal/infrastructure/mainloop"
	"github.com/lllypuk/userfeed/internal/infrastructure/metrics"
	"github.com/lllypuk/userfeed/internal/infrastructure/websocket"
	"github.com/lllypuk/userfeed/internal/middleware"
	"github.com/lllypuk/userfeed/internal/presentation"
	"github.com/lllypuk/userfeed/internal/service"
)

// Container initialization timeouts.
const (
	containerInitTimeout = 30 * time.Second
	redisPingTimeout     = 5 * time.Second
)

// Request headers sent to the remote API.
const (
	acceptJSON = "application/json"
)

// Container holds all application dependencies and manages their lifecycle.
// It implements httpserver.HealthChecker for unified health endpoint support.
type Container struct {
	// Configuration
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	Registry       *prometheus.Registry
	Metrics        *metrics.FeedMetrics
	Redis          *redis.Client
	ImageStore     fetcher.Store
	RateLimitStore middleware.RateLimitStore
	Loop           *mainloop.Loop
	ListFetcher    *fetcher.Fetcher
	ImageFetcher   *fetcher.Fetcher
	Hub            *websocket.Hub
	Broadcaster    *websocket.Broadcaster

	// Feed
	ListLoader  *github.ListLoader
	Placeholder image.Image
	List        *presentation.List
	Feed        *service.FeedService

	// HTTP Handlers
	UsersHandler *httphandler.UsersHandler
	WSHandler    *wshandler.Handler

	// ownsRedis is false when the client was injected and the caller closes it.
	ownsRedis bool
}

// Ensure Container implements httpserver.HealthChecker.
var _ httpserver.HealthChecker = (*Container)(nil)

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets a custom logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// WithRedisClient injects an existing Redis client instead of dialing one.
func WithRedisClient(client *redis.Client) ContainerOption {
	return func(c *Container) {
		c.Redis = client
	}
}

// NewContainer creates a new dependency injection container.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config:    cfg,
		Logger:    slog.Default(),
		ownsRedis: true,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.Redis != nil {
		c.ownsRedis = false
	}

	if err := c.setupInfrastructure(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}

	if err := c.setupFeed(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup feed: %w", err)
	}

	c.setupWebSocket()
	c.setupHTTPHandlers()

	if err := c.validateWiring(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("wiring validation failed: %w", err)
	}

	return c, nil
}

// validateWiring ensures all required dependencies are properly initialized.
func (c *Container) validateWiring() error {
	var errs []error

	if c.Loop == nil {
		errs = append(errs, errors.New("main loop not initialized"))
	}
	if c.Feed == nil {
		errs = append(errs, errors.New("feed service not initialized"))
	}
	if c.Hub == nil {
		errs = append(errs, errors.New("websocket hub not initialized"))
	}
	if c.Config.ImageStore.Type == config.ImageStoreRedis && c.ImageStore == nil {
		errs = append(errs, errors.New("redis image store not initialized"))
	}
	if c.UsersHandler == nil || c.WSHandler == nil {
		errs = append(errs, errors.New("http handlers not initialized"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// setupInfrastructure initializes metrics, Redis and the shared stores.
func (c *Container) setupInfrastructure() error {
	ctx, cancel := context.WithTimeout(context.Background(), containerInitTimeout)
	defer cancel()

	c.setupMetrics()

	if c.Config.ImageStore.Type == config.ImageStoreRedis {
		if err := c.setupRedis(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	c.setupImageStore()
	c.setupRateLimitStore()

	c.Loop = mainloop.New(mainloop.WithLogger(c.Logger))

	return nil
}

// setupMetrics creates a private registry so tests can build several containers.
func (c *Container) setupMetrics() {
	c.Registry = prometheus.NewRegistry()
	c.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.Metrics = metrics.NewFeedMetrics(c.Registry)
}

// setupRedis initializes the Redis client.
func (c *Container) setupRedis(ctx context.Context) error {
	if c.Redis == nil {
		c.Redis = redis.NewClient(&redis.Options{
			Addr:     c.Config.Redis.Addr,
			Password: c.Config.Redis.Password,
			DB:       c.Config.Redis.DB,
			PoolSize: c.Config.Redis.PoolSize,
		})
	}

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if pingErr := c.Redis.Ping(pingCtx).Err(); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to Redis",
		slog.String("addr", c.Config.Redis.Addr),
	)

	return nil
}

// setupImageStore selects the byte store consulted before image downloads.
func (c *Container) setupImageStore() {
	storeCfg := c.Config.ImageStore

	switch storeCfg.Type {
	case config.ImageStoreMemory:
		c.ImageStore = imagestore.NewMemoryStore(storeCfg.MaxEntries, storeCfg.TTL)
	case config.ImageStoreRedis:
		c.ImageStore = imagestore.NewRedisStore(imagestore.RedisStoreConfig{
			Client:    c.Redis,
			KeyPrefix: storeCfg.KeyPrefix,
			TTL:       storeCfg.TTL,
		})
	default:
		c.ImageStore = nil
	}

	c.Logger.Debug("image store initialized", slog.String("type", storeCfg.Type))
}

// setupRateLimitStore shares reload counters through Redis when it is available.
func (c *Container) setupRateLimitStore() {
	if !c.Config.RateLimit.Enabled {
		return
	}

	if c.Redis != nil {
		c.RateLimitStore = middleware.NewRedisRateLimitStore(c.Redis, "")
		return
	}
	c.RateLimitStore = middleware.NewMemoryRateLimitStore(middleware.DefaultRateLimitMaxKeys, c.Config.RateLimit.Window)
}

// setupFeed builds the fetch pipeline, the list and the feed service.
func (c *Container) setupFeed() error {
	apiCfg := c.Config.API

	c.ListFetcher = fetcher.New(fetcher.Config{
		Endpoint:  metrics.EndpointList,
		Timeout:   apiCfg.ListTimeout,
		UserAgent: apiCfg.UserAgent,
		Accept:    acceptJSON,
	}, c.Loop,
		fetcher.WithLogger(c.Logger),
		fetcher.WithMetrics(c.Metrics),
	)

	imageOpts := []fetcher.Option{
		fetcher.WithLogger(c.Logger),
		fetcher.WithMetrics(c.Metrics),
	}
	if c.ImageStore != nil {
		imageOpts = append(imageOpts, fetcher.WithStore(c.ImageStore))
	}
	if apiCfg.CoalesceImages {
		imageOpts = append(imageOpts, fetcher.WithCoalescing())
	}
	c.ImageFetcher = fetcher.New(fetcher.Config{
		Endpoint:  metrics.EndpointImage,
		Timeout:   apiCfg.ImageTimeout,
		UserAgent: apiCfg.UserAgent,
	}, c.Loop, imageOpts...)

	c.ListLoader = github.NewListLoader(
		github.ListLoaderConfig{BaseURL: apiCfg.BaseURL},
		c.ListFetcher,
		github.WithLogger(c.Logger),
	)

	placeholderColor, err := imagecache.ParseColor(c.Config.Placeholder.Color)
	if err != nil {
		return fmt.Errorf("placeholder color: %w", err)
	}
	c.Placeholder = imagecache.Placeholder(c.Config.Placeholder.Size, placeholderColor)

	listOpts := []presentation.Option{
		presentation.WithLogger(c.Logger),
		presentation.WithMetrics(c.Metrics),
	}
	if apiCfg.PerItemNotifications {
		listOpts = append(listOpts, presentation.WithPerItemNotifications())
	}
	c.List = presentation.NewList(c.ListLoader, c.newImageCache, listOpts...)

	c.Feed = service.NewFeedService(c.Loop, c.List, service.WithLogger(c.Logger))

	c.Logger.Debug("feed initialized",
		slog.String("endpoint", c.ListLoader.Endpoint()),
		slog.Bool("coalesce_images", apiCfg.CoalesceImages),
	)

	return nil
}

// newImageCache is the presentation.CacheFactory of the list.
func (c *Container) newImageCache() *imagecache.Cache {
	return imagecache.New(c.ImageFetcher,
		imagecache.WithPlaceholder(c.Placeholder),
		imagecache.WithLogger(c.Logger),
		imagecache.WithMetrics(c.Metrics),
	)
}

// setupWebSocket initializes the hub and the event broadcaster.
func (c *Container) setupWebSocket() {
	c.Hub = websocket.NewHub(websocket.WithHubLogger(c.Logger))
	c.Broadcaster = websocket.NewBroadcaster(c.Hub, c.Feed,
		websocket.WithBroadcasterLogger(c.Logger),
	)

	c.Logger.Debug("websocket hub initialized")
}

// setupHTTPHandlers creates the REST and WebSocket handlers.
func (c *Container) setupHTTPHandlers() {
	var usersOpts []httphandler.UsersHandlerOption
	if c.RateLimitStore != nil {
		usersOpts = append(usersOpts, httphandler.WithReloadMiddleware(middleware.RateLimit(middleware.RateLimitConfig{
			Logger:  c.Logger,
			Store:   c.RateLimitStore,
			Limit:   c.Config.RateLimit.ReloadLimit,
			Window:  c.Config.RateLimit.Window,
			Message: "too many reload requests",
		})))
	}
	c.UsersHandler = httphandler.NewUsersHandler(c.Feed, usersOpts...)

	clientConfig := websocket.DefaultClientConfig()
	clientConfig.PingInterval = c.Config.WebSocket.PingInterval
	clientConfig.PongWait = c.Config.WebSocket.PongTimeout

	c.WSHandler = wshandler.NewHandler(c.Hub,
		wshandler.WithHandlerConfig(wshandler.HandlerConfig{
			ReadBufferSize:  c.Config.WebSocket.ReadBufferSize,
			WriteBufferSize: c.Config.WebSocket.WriteBufferSize,
			CheckOrigin:     middleware.OriginChecker(c.Config.Server.AllowedOrigins),
			Logger:          c.Logger,
			ClientConfig:    clientConfig,
		}),
		wshandler.WithFeed(c.Feed),
	)
}

// Start runs the main loop and the hub in the background and starts the feed.
func (c *Container) Start(ctx context.Context) {
	go c.Loop.Run(ctx)
	go c.Hub.Run(ctx)
	c.startFeed(ctx)
}

// Run starts the background components and serves HTTP until ctx is done
// or the server fails.
func (c *Container) Run(ctx context.Context, server *httpserver.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		c.Loop.Run(gctx)
		return nil
	})
	g.Go(func() error {
		c.Hub.Run(gctx)
		return nil
	})

	c.startFeed(gctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	return g.Wait()
}

// startFeed subscribes the broadcaster and schedules the first load when
// configured. Tasks posted before the loop runs are kept in its queue.
func (c *Container) startFeed(ctx context.Context) {
	c.Broadcaster.Start(ctx)

	if c.Config.App.LoadOnStart {
		if err := c.Feed.Reload(ctx); err != nil {
			c.Logger.WarnContext(ctx, "initial load not scheduled", slog.String("error", err.Error()))
		}
	}

	c.Logger.InfoContext(ctx, "feed started", slog.Bool("load_on_start", c.Config.App.LoadOnStart))
}

// Close gracefully closes all container resources.
// Resources are closed in reverse order of initialization.
func (c *Container) Close() error {
	c.Logger.Info("closing container resources...")

	var errs []error

	if c.Broadcaster != nil {
		c.Broadcaster.Stop()
	}

	if c.Hub != nil {
		c.Hub.Stop()
		c.Logger.Debug("websocket hub stopped")
	}

	if c.Loop != nil {
		c.Loop.Stop()
		c.Logger.Debug("main loop stopped")
	}

	if c.Redis != nil && c.ownsRedis {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			c.Logger.Debug("redis connection closed")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.Logger.Info("all container resources closed")
	return nil
}

// IsReady implements httpserver.HealthChecker.
// The service is ready once the main loop drains tasks and Redis answers.
func (c *Container) IsReady(ctx context.Context) bool {
	if c.Loop == nil || !c.Loop.IsRunning() {
		c.Logger.WarnContext(ctx, "main loop is not running")
		return false
	}

	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			c.Logger.WarnContext(ctx, "redis health check failed", slog.String("error", err.Error()))
			return false
		}
	}

	if c.Hub == nil || !c.Hub.IsRunning() {
		c.Logger.WarnContext(ctx, "websocket hub is not running")
		return false
	}

	return true
}

// GetHealthStatus implements httpserver.HealthChecker.
// It returns detailed health status of all components.
func (c *Container) GetHealthStatus(ctx context.Context) []httpserver.ComponentStatus {
	var statuses []httpserver.ComponentStatus

	loopStatus := httpserver.ComponentStatus{Name: "main_loop", Status: httpserver.StatusHealthy}
	if c.Loop == nil {
		loopStatus.Status = httpserver.StatusUnhealthy
		loopStatus.Message = "loop not initialized"
	} else if !c.Loop.IsRunning() {
		loopStatus.Status = httpserver.StatusUnhealthy
		loopStatus.Message = "loop not running"
	}
	statuses = append(statuses, loopStatus)

	if c.Redis != nil {
		redisStatus := httpserver.ComponentStatus{Name: "redis", Status: httpserver.StatusHealthy}
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			// Image bytes are refetched from the network without the store.
			redisStatus.Status = httpserver.StatusDegraded
			redisStatus.Message = err.Error()
		}
		statuses = append(statuses, redisStatus)
	}

	hubStatus := httpserver.ComponentStatus{Name: "websocket_hub", Status: httpserver.StatusHealthy}
	if c.Hub == nil {
		hubStatus.Status = httpserver.StatusUnhealthy
		hubStatus.Message = "hub not initialized"
	} else if !c.Hub.IsRunning() {
		hubStatus.Status = httpserver.StatusDegraded
		hubStatus.Message = "hub not running"
	}
	statuses = append(statuses, hubStatus)

	return statuses
}
