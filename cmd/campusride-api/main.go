// README: Entry point; loads config, wires stores and services, serves HTTP/WebSocket and runs background jobs.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"campusride/internal/config"
	"campusride/internal/events"
	httptransport "campusride/internal/http"
	"campusride/internal/infra"
	"campusride/internal/logging"
	"campusride/internal/memstore"
	"campusride/internal/modules/driver"
	"campusride/internal/modules/location"
	"campusride/internal/modules/matching"
	"campusride/internal/modules/pricing"
	"campusride/internal/modules/ride"
	"campusride/internal/modules/wallet"
	"campusride/internal/realtime"
	"campusride/internal/routing"
)

const (
	routeCacheTTL  = 10 * time.Minute
	routeCacheSize = 10000
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_invalid", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("campusride_exit", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	drivers  driver.Store
	rides    ride.Store
	wallets  wallet.Store
	pricing  pricing.Store
	matching matching.Index
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) (stores, func(), error) {
	if cfg.Store.Backend == "memory" {
		logger.Warn("store_memory", "note", "state is lost on restart")
		db := memstore.New()
		return stores{
			drivers:  db.Drivers(),
			rides:    db.Rides(),
			wallets:  db.Wallets(),
			pricing:  db.Pricing(),
			matching: db.Matching(),
		}, func() {}, nil
	}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return stores{}, nil, err
	}
	if err := infra.Migrate(ctx, pool); err != nil {
		pool.Close()
		return stores{}, nil, err
	}
	return pgStores(pool), pool.Close, nil
}

func pgStores(pool *pgxpool.Pool) stores {
	return stores{
		drivers:  driver.NewPGStore(pool),
		rides:    ride.NewPGStore(pool),
		wallets:  wallet.NewPGStore(pool),
		pricing:  pricing.NewPGStore(pool),
		matching: matching.NewPGIndex(pool),
	}
}

func needsRedis(cfg config.Config) bool {
	return cfg.Matching.Index == "redis" || cfg.Location.Throttle == "redis" || cfg.Realtime.Fanout
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (infra.TokenVerifier, error) {
	if cfg.FirebaseProjectID != "" {
		return infra.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentials)
	}
	return infra.NewJWTVerifier(cfg.JWTSecret), nil
}

func newPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Backend {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "amqp":
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return events.Nop{}, nil
	}
}

func newResolver(cfg config.RoutingConfig, logger *slog.Logger) (*routing.Resolver, error) {
	var providers []routing.Provider
	if cfg.OSRMURL != "" {
		providers = append(providers, routing.NewOSRMProvider(cfg.OSRMURL, nil))
	}
	if cfg.GoogleMapsKey != "" {
		g, err := routing.NewGoogleProvider(cfg.GoogleMapsKey)
		if err != nil {
			return nil, err
		}
		providers = append(providers, g)
	}
	if len(providers) == 0 && !cfg.AllowFallback {
		return nil, errors.New("no routing provider configured and fallback is disabled")
	}
	return routing.NewResolver(cfg, routing.NewCache(routeCacheTTL, routeCacheSize), logger, providers...), nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	st, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStores()

	var rdb *redis.Client
	if needsRedis(cfg) {
		rdb, err = infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	resolver, err := newResolver(cfg.Routing, logger)
	if err != nil {
		return err
	}
	publisher, err := newPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	hub := realtime.NewHub(cfg.Realtime.SendBuffer, logger)
	var registry realtime.Registry = hub
	if cfg.Realtime.Fanout {
		fanout := realtime.NewRedisFanout(ctx, hub, rdb, cfg.Realtime.Channel, logger)
		go fanout.Run(ctx)
		registry = fanout
	}

	driverSvc := driver.NewService(st.drivers, cfg.Wallet.MinimumRequiredBalance, logger)
	walletSvc := wallet.NewService(st.wallets, logger)
	pricingSvc := pricing.NewService(st.pricing)

	var sinks []location.Sink
	index := st.matching
	if cfg.Matching.Index == "redis" {
		geo := matching.NewGeoIndex(rdb, driverSvc)
		index = geo
		sinks = append(sinks, location.GeoSink(geo))
	}
	if cfg.Location.MirrorURL != "" {
		mirror, err := location.NewRTDBMirror(ctx, cfg.Location.MirrorURL, cfg.Auth.FirebaseCredentials)
		if err != nil {
			return err
		}
		sinks = append(sinks, mirror)
	}
	matchingSvc := matching.NewService(index, registry, cfg.Matching, logger)

	rideSvc := ride.NewService(ride.Deps{
		Store:       st.rides,
		Drivers:     driverSvc,
		Router:      resolver,
		Pricing:     pricingSvc,
		Wallet:      walletSvc,
		Broadcaster: matchingSvc,
		Notifier:    registry,
		Events:      publisher,
		Logger:      logger,
	})

	var throttle location.Throttle = location.NewMemoryThrottle(cfg.Location.ThrottleInterval)
	if cfg.Location.Throttle == "redis" {
		throttle = location.NewRedisThrottle(rdb, cfg.Location.ThrottleInterval)
	}
	locationSvc := location.NewService(location.Deps{
		Throttle: throttle,
		Drivers:  driverSvc,
		Rides:    rideSvc,
		Notifier: registry,
		Sinks:    sinks,
		Logger:   logger,
	})

	if cfg.Wallet.ReconcileInterval > 0 {
		go walletSvc.RunReconciler(ctx, cfg.Wallet.ReconcileInterval)
	}

	gin.SetMode(gin.ReleaseMode)
	router := httptransport.NewRouter(httptransport.Deps{
		Verifier: verifier,
		Rides:    rideSvc,
		Drivers:  driverSvc,
		Wallet:   walletSvc,
		Pricing:  pricingSvc,
		Matching: matchingSvc,
		Location: locationSvc,
		Registry: registry,
		Logger:   logger,
	})

	logger.Info("campusride_start",
		"store", cfg.Store.Backend,
		"matching_index", cfg.Matching.Index,
		"throttle", cfg.Location.Throttle,
		"events", cfg.Events.Backend,
		"fanout", cfg.Realtime.Fanout,
	)
	return httptransport.NewServer(cfg.HTTP, router, logger).Run(ctx)
}
