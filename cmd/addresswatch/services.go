package main

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/gabapcia/addresswatch/internal/addrstate"
	"github.com/gabapcia/addresswatch/internal/config"
	"github.com/gabapcia/addresswatch/internal/daemon"
	"github.com/gabapcia/addresswatch/internal/fetcher"
	"github.com/gabapcia/addresswatch/internal/handlers/cli"
	handlershttp "github.com/gabapcia/addresswatch/internal/handlers/http"
	"github.com/gabapcia/addresswatch/internal/infra/blockchain/hyperliquid"
	"github.com/gabapcia/addresswatch/internal/infra/notify"
	"github.com/gabapcia/addresswatch/internal/infra/notify/amqp"
	"github.com/gabapcia/addresswatch/internal/infra/notify/discord"
	"github.com/gabapcia/addresswatch/internal/infra/notify/logsink"
	"github.com/gabapcia/addresswatch/internal/infra/storage/cache"
	"github.com/gabapcia/addresswatch/internal/infra/storage/memory"
	"github.com/gabapcia/addresswatch/internal/infra/storage/redis"
	"github.com/gabapcia/addresswatch/internal/infra/storage/sqlstore"
	"github.com/gabapcia/addresswatch/internal/monitor"
	"github.com/gabapcia/addresswatch/internal/pkg/logger"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/breaker"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/ratelimit"
	"github.com/gabapcia/addresswatch/internal/pkg/resilience/retry"
	transporthttp "github.com/gabapcia/addresswatch/internal/pkg/transport/http"
	"github.com/gabapcia/addresswatch/internal/pkg/transport/jsonrpc"
	"github.com/gabapcia/addresswatch/internal/registry"
	"github.com/gabapcia/addresswatch/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
)

// storage is what every backend implements.
type storage interface {
	addrstate.Store
	addrstate.Registry
}

// flaggingMonitor is the monitor as seen by the scheduler and /status.
type flaggingMonitor interface {
	scheduler.Monitor
	Flagged() []string
}

// services builds components on first use and closes them in reverse order.
type services struct {
	cfg config.Config

	mu        sync.Mutex
	closers   []func() error
	storage   storage
	monitor   flaggingMonitor
	scheduler scheduler.Service
}

var _ cli.Services = (*services)(nil)

func newServices(cfg config.Config) *services {
	return &services{cfg: cfg}
}

func (s *services) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases everything built so far.
func (s *services) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn(ctx, "error releasing resource", "error", err)
		}
	}
	s.closers = nil
}

func (s *services) HealthURL() string {
	host, port, err := net.SplitHostPort(s.cfg.HTTPAddr)
	if err != nil {
		return "http://" + s.cfg.HTTPAddr + "/healthz"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/healthz"
}

func (s *services) Registry(ctx context.Context) (registry.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	return registry.New(st, registry.WithDefaults(s.defaults())), nil
}

func (s *services) Checker(ctx context.Context) (cli.Checker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buildScheduler(ctx)
}

func (s *services) Daemon(ctx context.Context) (daemon.Service, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, err := s.buildScheduler(ctx)
	if err != nil {
		return nil, err
	}

	router := handlershttp.NewRouter(sched,
		handlershttp.WithFlagSource(s.monitor),
		handlershttp.WithSnapshots(s.storage),
		handlershttp.WithGatherer(prometheus.DefaultGatherer),
	)
	server := handlershttp.NewServer(s.cfg.HTTPAddr, router)

	return daemon.New(sched, server), nil
}

func (s *services) defaults() addrstate.ScanConfig {
	return addrstate.ScanConfig{
		Interval: s.cfg.ScanInterval,
		Quota:    s.cfg.MaxAddressesPerUser,
	}
}

func (s *services) openStorage(ctx context.Context) (storage, error) {
	if s.storage != nil {
		return s.storage, nil
	}

	var (
		st  storage
		err error
	)
	switch s.cfg.Storage {
	case config.StorageRedis:
		var c interface {
			storage
			Close() error
		}
		c, err = redis.NewClient(ctx, s.cfg.Redis.Addr, s.cfg.Redis.Username, s.cfg.Redis.Password, s.cfg.Redis.DB,
			redis.WithKeyPrefix(s.cfg.Redis.KeyPrefix),
		)
		if err == nil {
			s.onClose(c.Close)
			st = c
		}
	case config.StorageSQLite, config.StoragePostgres:
		dialect, dsn := sqlstore.DialectSQLite, s.cfg.SQLiteDSN
		if s.cfg.Storage == config.StoragePostgres {
			dialect, dsn = sqlstore.DialectPostgres, s.cfg.PostgresDSN
		}
		var c interface {
			storage
			Close() error
		}
		c, err = sqlstore.Open(ctx, dialect, dsn)
		if err == nil {
			s.onClose(c.Close)
			st = c
		}
	case config.StorageMemory:
		st = memory.New()
	default:
		err = fmt.Errorf("unknown storage backend %q", s.cfg.Storage)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", s.cfg.Storage, err)
	}

	s.storage = st
	return st, nil
}

func (s *services) buildFetcher() (monitor.Fetcher, *breaker.Breaker) {
	cfg := s.cfg

	httpClient := transporthttp.NewClient(transporthttp.WithTimeout(cfg.RequestTimeout))
	upstream := hyperliquid.NewClient(jsonrpc.NewClient(httpClient, cfg.RPCURL), httpClient, cfg.APIURL)

	b := fetcher.NewBreaker("hyperliquid",
		breaker.WithFailureThreshold(cfg.BreakerFailureThreshold),
		breaker.WithCooldown(cfg.BreakerCooldown),
		breaker.WithBackoffFactor(cfg.BreakerBackoffFactor),
		breaker.WithMaxCooldown(cfg.BreakerMaxCooldown),
	)

	f := fetcher.New(upstream,
		ratelimit.New(cfg.RateLimit,
			ratelimit.WithBurst(cfg.RateLimitBurst),
			ratelimit.WithMaxWait(cfg.RateLimitMaxWait),
		),
		fetcher.WithBreaker(b),
		fetcher.WithRetry(retry.New(
			retry.WithAttempts(cfg.RetryAttempts),
			retry.WithDelay(cfg.RetryBaseDelay),
			retry.WithMaxDelay(cfg.RetryMaxDelay),
		)),
		fetcher.WithRequestTimeout(cfg.RequestTimeout),
	)

	return f, b
}

func (s *services) buildNotifier(ctx context.Context) (monitor.EventNotifier, error) {
	sinks := []notify.Sink{logsink.New()}

	if s.cfg.AMQPURL != "" {
		sink, err := amqp.Dial(s.cfg.AMQPURL, amqp.WithExchange(s.cfg.AMQPExchange))
		if err != nil {
			return nil, err
		}
		s.onClose(sink.Close)
		sinks = append(sinks, sink)
	}

	if s.cfg.DiscordWebhookURL != "" {
		sink, err := discord.New(s.cfg.DiscordWebhookURL, discord.WithExplorerURL(s.cfg.ExplorerURL))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}

	names := make([]string, len(sinks))
	for i, sink := range sinks {
		names[i] = sink.Name()
	}
	logger.Info(ctx, "notification sinks configured", "sinks", names)

	return notify.Fanout(sinks...), nil
}

func (s *services) buildScheduler(ctx context.Context) (scheduler.Service, error) {
	if s.scheduler != nil {
		return s.scheduler, nil
	}

	st, err := s.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	policy, err := monitor.ParsePolicy(s.cfg.PermanentFailurePolicy)
	if err != nil {
		return nil, err
	}

	notifier, err := s.buildNotifier(ctx)
	if err != nil {
		return nil, fmt.Errorf("configure notifications: %w", err)
	}

	var snapshots addrstate.Store = st
	if s.cfg.SnapshotCacheSize > 0 {
		if snapshots, err = cache.New(st, s.cfg.SnapshotCacheSize); err != nil {
			return nil, err
		}
	}

	f, b := s.buildFetcher()
	s.monitor = monitor.New(f, snapshots, notifier, monitor.WithPolicy(policy))

	sched, err := scheduler.New(s.monitor, st,
		scheduler.WithConcurrency(s.cfg.ScanConcurrency),
		scheduler.WithTick(s.cfg.SchedulerTick),
		scheduler.WithShutdownGrace(s.cfg.ShutdownGrace),
		scheduler.WithDefaults(s.defaults()),
		scheduler.WithBreakerStatus(b),
		scheduler.WithBreakerHealthMultiplier(s.cfg.BreakerHealthMultiplier),
	)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	s.onClose(func() error { sched.Close(); return nil })

	s.scheduler = sched
	return sched, nil
}
