package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/MrSnakeDoc/namebroker/internal/broker"
	"github.com/MrSnakeDoc/namebroker/internal/config"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver"
	"github.com/MrSnakeDoc/namebroker/internal/httpserver/deps"
	"github.com/MrSnakeDoc/namebroker/internal/logger"
	"github.com/MrSnakeDoc/namebroker/internal/monitor"
	"github.com/MrSnakeDoc/namebroker/internal/peersync"
	"github.com/MrSnakeDoc/namebroker/internal/redis"
	"github.com/MrSnakeDoc/namebroker/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/namebroker/internal/store/redis"
	"github.com/MrSnakeDoc/namebroker/internal/telemetry"
	"github.com/MrSnakeDoc/namebroker/internal/utils"
	"github.com/MrSnakeDoc/namebroker/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	broker      *broker.Broker
	server      *httpserver.Server
	redisClient *goredis.Client
	store       *redisstore.Store
	etcdClient  *clientv3.Client
	watcher     *peersync.Watcher
	publisher   *peersync.Publisher
	reloader    *scheduler.StaticReloader
	compactor   *scheduler.HistoryCompactor
	ready       atomic.Bool
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)
	telemetry.SetBuildInfo(version.Version, version.Commit)

	prober := monitor.NewProber(monitor.Options{
		Interval:     cfg.ProbeInterval,
		Timeout:      cfg.ProbeTimeout,
		InitialDelay: cfg.ProbeInitialDelay,
		MaxFailures:  cfg.ProbeMaxFailures,
	}, loggerClient.With(logger.String("component", "monitor")))

	b := broker.New(prober, loggerClient.With(logger.String("component", "broker")))

	a := &App{
		cfg:    cfg,
		logger: loggerClient,
		broker: b,
		compactor: scheduler.NewHistoryCompactor(
			b.History(),
			loggerClient,
			cfg.HistoryCompactions,
			cfg.HistoryRetain,
		),
	}

	// Redis is optional: registrations made through the API survive restarts only with it
	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			DB:             cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
		}, loggerClient)
		if err != nil {
			loggerClient.Errorf("Failed to connect to Redis: %v", err)
			os.Exit(1)
		}
		a.redisClient = redisClient
		a.store = redisstore.NewStore(redisClient)
		loggerClient.Info("Redis initialized successfully")
	} else {
		loggerClient.Info("redis not configured, registrations will not be persisted")
	}

	if len(cfg.EtcdEndpoints) > 0 {
		etcdClient, err := peersync.NewClient(cfg.EtcdEndpoints, cfg.EtcdDialTimeout)
		if err != nil {
			loggerClient.Errorf("Failed to create etcd client: %v", err)
			os.Exit(1)
		}
		a.etcdClient = etcdClient
		syncLog := loggerClient.With(logger.String("component", "peersync"))
		a.watcher = peersync.NewWatcher(etcdClient, cfg.EtcdPrefix, b, syncLog)
		a.publisher = peersync.NewPublisher(etcdClient, cfg.EtcdPrefix, cfg.EtcdLeaseTTL, b.Dispatcher(), syncLog)
		loggerClient.Info("etcd peer sync configured",
			logger.Strings("endpoints", cfg.EtcdEndpoints),
			logger.String("prefix", peersync.NormalizePrefix(cfg.EtcdPrefix)))
	} else {
		loggerClient.Info("etcd not configured, running standalone")
	}

	var reloadTrigger chan struct{}
	if cfg.MappingsFile != "" {
		reloadTrigger = make(chan struct{}, 1)
		a.reloader = scheduler.NewStaticReloader(
			cfg.MappingsFile,
			b,
			loggerClient,
			cfg.ReloadInterval,
			reloadTrigger,
		)
	}

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:          loggerClient,
		StartTime:       time.Now(),
		Version:         version.Version,
		Commit:          version.Commit,
		BuildDate:       version.BuildDate,
		GoVersion:       version.GoVersion,
		AllowedHosts:    cfg.AllowedHosts,
		AllowedCIDRS:    cfg.AllowedCIDRS,
		TrustProxy:      cfg.TrustProxy,
		Broker:          b,
		EtcdClient:      a.etcdClient,
		MappingsFile:    cfg.MappingsFile,
		ReloadTrigger:   reloadTrigger,
		RegisterTimeout: cfg.RegisterTimeout,
		RateLimitRPS:    cfg.RateLimitRPS,
		RateLimitBurst:  cfg.RateLimitBurst,
		Ready:           a.ready.Load,
	}
	if a.store != nil {
		d.Store = a.store
	}

	a.server = httpserver.New(cfg, loggerClient, d)
	return a
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting namebroker v%s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Infof("namebroker %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The broker loop outlives ctx so in-flight requests drain before it stops.
	brokerCtx, stopBroker := context.WithCancel(context.Background())
	defer stopBroker()
	brokerDone := make(chan struct{})
	go func() {
		defer close(brokerDone)
		a.broker.Run(brokerCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	if a.store != nil {
		restorer := scheduler.NewRegistrationRestorer(a.store, a.broker, a.logger)
		if _, err := restorer.Restore(ctx); err != nil {
			a.logger.Warn("failed to restore registrations from redis",
				logger.Error(err))
		}
	}

	if a.reloader != nil {
		if err := a.reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mappings reloader: %w", err)
		}
		a.logger.Info("mappings reloader started",
			logger.String("file", a.cfg.MappingsFile),
			logger.Duration("interval", a.cfg.ReloadInterval))
	}

	if err := a.compactor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start history compactor: %w", err)
	}
	a.logger.Info("history compactor started",
		logger.Duration("interval", a.cfg.HistoryCompactions),
		logger.Int("retain", a.cfg.HistoryRetain))

	syncCtx, stopSync := context.WithCancel(ctx)
	defer stopSync()
	var syncWG sync.WaitGroup
	if a.watcher != nil {
		syncWG.Go(func() {
			if err := a.watcher.Run(syncCtx); err != nil {
				a.logger.Error("etcd watcher stopped", logger.Error(err))
			}
		})
		syncWG.Go(func() {
			if err := a.publisher.Run(syncCtx); err != nil {
				a.logger.Error("etcd publisher stopped", logger.Error(err))
			}
		})
	}

	a.ready.Store(true)

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}
	a.ready.Store(false)

	if a.reloader != nil {
		a.reloader.Stop()
	}
	a.compactor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("failed to stop server cleanly", logger.Error(err))
	}

	// peers drop our mappings once the publisher revokes its lease
	stopSync()
	syncWG.Wait()

	stopBroker()
	<-brokerDone

	if a.etcdClient != nil {
		utils.CloseLogged(a.etcdClient, "etcd client", a.logger)
	}
	if a.redisClient != nil {
		utils.CloseLogged(a.redisClient, "Redis", a.logger)
	}

	a.logger.Info("✅ namebroker stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
