package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/antinvestor/service-checkout/apps/default/config"
	"github.com/antinvestor/service-checkout/apps/default/service/backend"
	"github.com/antinvestor/service-checkout/apps/default/service/business"
	"github.com/antinvestor/service-checkout/apps/default/service/events"
	"github.com/antinvestor/service-checkout/apps/default/service/handlers"
	"github.com/antinvestor/service-checkout/apps/default/service/hub"
	"github.com/antinvestor/service-checkout/apps/default/service/models"
	"github.com/antinvestor/service-checkout/apps/default/service/repository"
	"github.com/antinvestor/service-checkout/apps/default/service/router"
	"github.com/antinvestor/service-checkout/apps/default/service/session"
	"github.com/go-redis/redis"
	"github.com/nats-io/nats.go"
	"github.com/pitabwire/frame"
	_ "gorm.io/driver/postgres"
)

func main() {
	serviceName := "service_checkout"
	checkoutConfig, err := frame.ConfigFromEnv[config.CheckoutConfig]()
	if err != nil {
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	ctx, service := frame.NewService(serviceName, frame.Config(&checkoutConfig), frame.Datastore(context.Background()))
	defer service.Stop(ctx)
	logger := service.L(ctx).WithField("type", "main")

	// Run migrations if DO_MIGRATION=true
	if checkoutConfig.DO_MIGRATION {
		err = service.MigrateDatastore(ctx, checkoutConfig.GetDatabaseMigrationPath(),
			&models.Attempt{}, &models.AttemptStatus{})
		if err != nil {
			logger.WithError(err).Fatal("could not migrate successfully")
		}
		logger.Info("Migrations completed successfully")
		return
	}

	db := service.DB(ctx, false)
	if db == nil {
		logger.WithField("DATABASE_URL", os.Getenv("DATABASE_URL")).Fatal("Database connection is nil - check DATABASE_URL and database availability")
		return
	}
	if err := db.AutoMigrate(&models.Attempt{}, &models.AttemptStatus{}); err != nil {
		logger.WithError(err).Fatal("Failed to auto-migrate database tables - cannot continue")
		return
	}

	var store session.Store
	if checkoutConfig.UseRedis() {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     checkoutConfig.RedisAddr,
			Password: checkoutConfig.RedisPassword,
			DB:       checkoutConfig.RedisDB,
		})
		defer redisClient.Close()

		if err := redisClient.WithContext(ctx).Ping().Err(); err != nil {
			logger.WithError(err).WithField("addr", checkoutConfig.RedisAddr).Fatal("could not reach redis")
		}
		store = session.NewRedisStore(redisClient, checkoutConfig.SessionTTL)
		logger.WithField("addr", checkoutConfig.RedisAddr).Info("Keeping checkout sessions in redis")
	} else {
		store = session.NewMemoryStore(checkoutConfig.SessionTTL)
		logger.Warn("REDIS_ADDR is not set, checkout sessions are kept in memory")
	}

	backendClient := backend.New(checkoutConfig.BackendURI, checkoutConfig.BackendAPIKey, checkoutConfig.BackendTimeout)
	sessionHub := hub.New()

	checkout, err := business.NewCheckoutBusiness(ctx, store, backendClient, business.Options{
		BackendTimeout: checkoutConfig.BackendTimeout,
		PendingTTL:     checkoutConfig.PendingTTL,
		OutcomeTopic:   checkoutConfig.OutcomeTopic,
		Emitter:        service,
		Publisher:      service,
		Notifier:       sessionHub,
	})
	if err != nil {
		logger.WithError(err).Fatal("could not set up checkout")
	}

	implementation := &handlers.CheckoutServer{
		Service:     service,
		Checkout:    checkout,
		Hub:         sessionHub,
		Attempts:    repository.NewAttemptRepository(ctx, service),
		Statuses:    repository.NewAttemptStatusRepository(ctx, service),
		CountryCode: checkoutConfig.CountryCode,
	}

	notification := &events.PaymentNotification{Service: service, Checkout: checkout}

	serviceOptions := []frame.Option{
		frame.HttpHandler(router.NewRouter(implementation)),
		frame.RegisterEvents(
			&events.AttemptSave{Service: service},
			&events.AttemptStatusSave{Service: service},
		),
	}

	pushTopic := checkoutConfig.PushTopic
	outcomeTopic := checkoutConfig.OutcomeTopic
	pushURL, outcomeURL := messagingURLs(checkoutConfig.NATS_URL, pushTopic, outcomeTopic, logger)

	logger.WithField("pushURL", pushURL).WithField("outcomeURL", outcomeURL).Info("Registering payment channel")
	serviceOptions = append(serviceOptions,
		frame.RegisterPublisher(outcomeTopic, outcomeURL),
		frame.RegisterSubscriber(pushTopic, pushURL, 0, notification),
	)

	service.Init(serviceOptions...)

	logger.WithField("server http port", checkoutConfig.HttpServerPort).
		Info("Initiating server operations")

	if err := service.Run(ctx, checkoutConfig.HttpServerPort); err != nil {
		logger.WithError(err).Fatal("could not run Server")
	}
}

type infoLogger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
}

// messagingURLs probes NATS and falls back to in memory topics when it
// cannot be reached or SKIP_NATS=true.
func messagingURLs(natsURL, pushTopic, outcomeTopic string, log infoLogger) (string, string) {
	memory := func() (string, string) {
		return "mem://" + pushTopic, "mem://" + outcomeTopic
	}

	if os.Getenv("SKIP_NATS") == "true" {
		log.Infof("Using in-memory pubsub directly (SKIP_NATS=true)")
		return memory()
	}

	if !strings.HasPrefix(natsURL, "nats://") {
		log.Warnf("NATS_URL missing 'nats://' prefix; assuming host:port format")
		natsURL = "nats://" + natsURL
	}

	maxRetries := 10
	for i := range maxRetries {
		nc, err := nats.Connect(natsURL)
		if err != nil {
			log.Warnf("Failed to connect to NATS (attempt %d): %v, retrying after delay", i+1, err)
			time.Sleep(2 * time.Second)
			continue
		}
		nc.Close()
		log.Infof("Successfully connected to NATS server")
		return natsURL + pushTopic, natsURL + outcomeTopic
	}

	log.Warnf("Failed to connect to NATS after %d retries - falling back to memory-based pubsub", maxRetries)
	return memory()
}
