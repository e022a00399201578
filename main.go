package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"

	"tripbooking/internal/cache"
	intconfig "tripbooking/internal/config"
	intdb "tripbooking/internal/db"
	"tripbooking/internal/gateway"
	"tripbooking/internal/gateway/paypal"
	"tripbooking/internal/gateway/stripepay"
	"tripbooking/internal/gateway/webpay"
	"tripbooking/internal/gateway/yookassa"
	router "tripbooking/internal/http"
	h "tripbooking/internal/http/handlers"
	"tripbooking/internal/notify"
	"tripbooking/internal/queue"
	"tripbooking/internal/repositories"
	"tripbooking/internal/services"
	"tripbooking/internal/utils"
)

func main() {
	env := intconfig.LoadEnv()

	log, err := utils.InitLogger(env.AppEnv)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := intconfig.ConnectDB(env.DBDSN, log)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer intconfig.CloseDB()
	if err := intdb.EnsureSchema(ctx, conn); err != nil {
		log.Fatal("schema bootstrap failed", zap.Error(err))
	}

	urls := newURLCache(ctx, env, log)
	refunds, notifier := newMessaging(ctx, env, log)

	gateways, err := newGateways(env, log)
	if err != nil {
		log.Fatal("payment gateway setup failed", zap.Error(err))
	}
	log.Info("payment gateways ready", zap.Any("providers", gateways.Providers()))

	trips := repositories.TripRepository{DB: conn}
	bookings := repositories.BookingRepository{DB: conn}
	payments := repositories.PaymentRepository{DB: conn}
	tokens := repositories.LoginTokenRepository{DB: conn}

	bookingSvc := &services.BookingService{
		Trips:    trips,
		Bookings: bookings,
		Refunds:  refunds,
		Notifier: notifier,
		Log:      log.Named("booking"),
	}
	paymentSvc := &services.PaymentService{
		Gateways:    gateways,
		Payments:    payments,
		Bookings:    bookings,
		Trips:       trips,
		Transitions: bookingSvc,
		URLs:        urls,
		Log:         log.Named("payment"),
	}
	authSvc := &services.AuthService{
		Tokens:            tokens,
		Bookings:          bookings,
		Secret:            []byte(env.JWTSecret),
		LinkBaseURL:       env.FrontendURL,
		AdminEmail:        env.AdminEmail,
		AdminPasswordHash: env.AdminPasswordHash,
		Log:               log.Named("auth"),
	}
	if env.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty; logins are disabled")
	}
	job := &services.RefundJob{Bookings: bookings, Refunds: paymentSvc, Log: log.Named("refund_job")}

	hd := &h.Handler{
		Trips:            services.TripService{Trips: trips, Log: log.Named("trip")},
		Bookings:         bookingSvc,
		Payments:         paymentSvc,
		Auth:             authSvc,
		Tickets:          services.TicketService{Bookings: bookings, Trips: trips},
		Reports:          services.ReportsService{Trips: trips, Bookings: bookings},
		Ping:             intconfig.PingDB,
		FrontendURL:      env.FrontendURL,
		ExposeLoginToken: env.IsLocal(),
		Log:              log,
	}
	r := router.NewRouter(env, hd, authSvc, log)

	srv := &http.Server{
		Addr:              env.AppAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := refunds.Run(ctx, job.Handle); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("refund worker stopped", zap.Error(err))
		}
	}()

	go func() {
		log.Info("server listening", zap.String("addr", env.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	wg.Wait()
	if c, ok := urls.(*cache.RedisURLCache); ok {
		_ = c.Close()
	}
	log.Info("server stopped")
}

// newURLCache uses Redis when REDIS_URL is set, process memory otherwise.
func newURLCache(ctx context.Context, env intconfig.Env, log *zap.Logger) cache.URLCache {
	if env.RedisURL == "" {
		log.Info("REDIS_URL not set; payment urls cached in memory")
		return cache.NewMemoryURLCache()
	}
	c, err := cache.NewRedisURLCache(ctx, env.RedisURL)
	if err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}
	return c
}

// newMessaging picks SQS for refunds and SNS for notifications when they are
// configured, and in-process fallbacks otherwise.
func newMessaging(ctx context.Context, env intconfig.Env, log *zap.Logger) (queue.Queue, notify.Notifier) {
	logNotifier := notify.LogNotifier{Log: log.Named("notify")}
	if env.RefundQueueURL == "" && env.BookingEventsTopic == "" {
		log.Info("no AWS messaging configured; using in-memory refund queue")
		return queue.NewMemoryQueue(256, env.RefundMaxAttempts, log.Named("refund_queue")), logNotifier
	}

	awsCfg, err := intconfig.LoadAWSConfig(ctx)
	if err != nil {
		log.Fatal("aws config failed", zap.Error(err))
	}

	var q queue.Queue
	if env.RefundQueueURL != "" {
		client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) { o.BaseEndpoint = env.EndpointOverride() })
		q = queue.NewSQSQueue(client, env.RefundQueueURL, env.RefundMaxAttempts, log.Named("refund_queue"))
	} else {
		q = queue.NewMemoryQueue(256, env.RefundMaxAttempts, log.Named("refund_queue"))
	}

	var n notify.Notifier = logNotifier
	if env.BookingEventsTopic != "" {
		client := sns.NewFromConfig(awsCfg, func(o *sns.Options) { o.BaseEndpoint = env.EndpointOverride() })
		n = notify.Multi{logNotifier, notify.NewSNSNotifier(client, env.BookingEventsTopic)}
	}
	return q, n
}

// newGateways registers a driver for every provider whose credentials are
// present.
func newGateways(env intconfig.Env, log *zap.Logger) (*gateway.Registry, error) {
	var drivers []gateway.Gateway
	if env.YooKassa.ShopID != "" && env.YooKassa.SecretKey != "" {
		g, err := yookassa.New(env.YooKassa, log)
		if err != nil {
			return nil, err
		}
		if len(env.YooKassa.TrustedNetworks) > 0 && len(env.TrustedProxies) == 0 {
			log.Info("yookassa source check uses the socket peer; set TRUSTED_PROXIES when behind a proxy")
		}
		drivers = append(drivers, g)
	}
	if env.Stripe.SecretKey != "" {
		drivers = append(drivers, stripepay.New(env.Stripe, log))
	}
	if env.PayPal.ClientID != "" && env.PayPal.ClientSecret != "" {
		drivers = append(drivers, paypal.New(env.PayPal, log))
	}
	if env.WebPay.StoreID != "" && env.WebPay.SecretKey != "" {
		drivers = append(drivers, webpay.New(env.WebPay, log))
	}
	return gateway.NewRegistry(drivers...), nil
}
