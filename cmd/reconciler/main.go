package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	natsjetstream "github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"payments-engine/internal/billing/actionqueue"
	"payments-engine/internal/billing/adapter"
	billingconfig "payments-engine/internal/billing/config"
	"payments-engine/internal/billing/domain"
	"payments-engine/internal/billing/provider/httpadapter"
	"payments-engine/internal/billing/reconcile"
	"payments-engine/internal/billing/registry"
	"payments-engine/internal/billing/repository"
	memoryrepo "payments-engine/internal/billing/repository/memory"
	mongorepo "payments-engine/internal/billing/repository/mongo"
	"payments-engine/internal/billing/usecase/billingops"
	"payments-engine/pkg/broker/nats/jetstream"
)

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewExample()
	}
	return logger
}

// reconciler drives the three reconciliation passes (§4.6) for every
// configured provider on independent tickers, mirroring cmd/worker's
// ticker-per-task + signal-driven graceful shutdown idiom.
type reconciler struct {
	logger    *zap.Logger
	core      *reconcile.Reconciler
	providers []string
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	logger.Info("starting billing reconciler")

	cfg, err := billingconfig.New()
	if err != nil {
		logger.Fatal("failed to load billing configuration", zap.Error(err))
	}

	repo, err := buildRepository(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize repository", zap.Error(err))
	}

	reg := registry.New(buildAdapters(cfg.Providers))

	lease := buildLease(cfg, logger)

	actions, js, err := buildActionQueue(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize action queue", zap.Error(err))
	}
	ops := &billingops.Ops{
		Repo:                                    repo,
		Registry:                                reg,
		Clock:                                   domain.RealClock{},
		Actions:                                 actions,
		PurchaseExpiresAfter:                    cfg.PurchaseExpiresAfter,
		CascadeTransactionExpiryToSubscription:  cfg.CascadeTransactionExpiryToSubscription,
		Logger:                                  logger,
	}

	actionCtx, cancelActions := context.WithCancel(context.Background())
	defer cancelActions()
	if err := startActionDispatch(actionCtx, actions, js, cfg.NATS, ops.ActionHandler(), logger); err != nil {
		logger.Fatal("failed to start action dispatch", zap.Error(err))
	}

	core := &reconcile.Reconciler{
		Repo:                                    repo,
		Registry:                                reg,
		Clock:                                   domain.RealClock{},
		Lease:                                   lease,
		Actions:                                 actions,
		Logger:                                  logger,
		RenewalBefore:                           cfg.RenewalBefore,
		CascadeTransactionExpiryToSubscription:  cfg.CascadeTransactionExpiryToSubscription,
	}

	r := &reconciler{logger: logger, core: core, providers: cfg.Providers}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	for _, provider := range cfg.Providers {
		go r.runLoop(ctx, provider, "check-transactions", 30*time.Second, r.core.CheckTransactions)
		go r.runLoop(ctx, provider, "check-subscription-renewal", time.Minute, r.core.CheckSubscriptionRenewal)
		go r.runLoop(ctx, provider, "check-uncompleted-subscription", 5*time.Minute, r.core.CheckUncompletedSubscription)
	}

	logger.Info("billing reconciler started", zap.Strings("providers", cfg.Providers))

	sig := <-quit
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("billing reconciler stopped")
}

type reconcilePass func(ctx context.Context, provider string, sink repository.ErrorSink) error

func (r *reconciler) runLoop(ctx context.Context, provider, name string, interval time.Duration, pass reconcilePass) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sink := func(item string, err error) {
		r.logger.Error("reconciliation item failed",
			zap.String("provider", provider),
			zap.String("loop", name),
			zap.String("item", item),
			zap.Error(err),
		)
	}

	run := func() {
		if err := pass(ctx, provider, sink); err != nil {
			r.logger.Error("reconciliation pass failed",
				zap.String("provider", provider),
				zap.String("loop", name),
				zap.Error(err),
			)
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func buildRepository(cfg *billingconfig.BillingConfig, logger *zap.Logger) (repository.Repository, error) {
	if cfg.Mongo.URI == "" {
		logger.Warn("no MONGO_URI configured, using in-memory repository")
		return memoryrepo.New(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("reconciler - buildRepository - mongo.Connect: %w", err)
	}
	return mongorepo.New(client.Database(cfg.Mongo.Database)), nil
}

func buildLease(cfg *billingconfig.BillingConfig, logger *zap.Logger) reconcile.Lease {
	if cfg.Redis.URL == "" {
		logger.Warn("no REDIS_URL configured, using in-process lease (single instance only)")
		return reconcile.NewInProcessLease()
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, falling back to in-process lease", zap.Error(err))
		return reconcile.NewInProcessLease()
	}
	return reconcile.NewRedisLease(redis.NewClient(opts))
}

// buildActionQueue returns a JetStreamQueue plus its underlying client when
// NATS.ENABLE_JETSTREAM is set, else an InMemoryQueue for single-process
// deployments (client nil).
func buildActionQueue(cfg *billingconfig.BillingConfig, logger *zap.Logger) (actionqueue.Queue, *jetstream.JetStream, error) {
	if !cfg.NATS.EnableJetStream {
		return actionqueue.NewInMemoryQueue(), nil, nil
	}

	js, err := jetstream.New(jetstream.Config{
		URL:        cfg.NATS.URL,
		StreamName: cfg.NATS.StreamName,
		Subjects:   []string{cfg.NATS.Subject},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reconciler - buildActionQueue - jetstream.New: %w", err)
	}
	logger.Info("action queue backed by JetStream", zap.String("subject", cfg.NATS.Subject))
	return actionqueue.NewJetStreamQueue(js, cfg.NATS.Subject), js, nil
}

// startActionDispatch wires the action handler to the queue: InMemoryQueue
// dispatches synchronously via Subscribe, while a JetStreamQueue is driven by
// a durable consumer decoding each message with actionqueue.DecodeAction.
func startActionDispatch(ctx context.Context, actions actionqueue.Queue, js *jetstream.JetStream, cfg billingconfig.NATSConfig, handler actionqueue.Handler, logger *zap.Logger) error {
	if js == nil {
		return actions.Subscribe(ctx, handler)
	}

	consumer, err := js.CreateConsumer(ctx, cfg.StreamName, "billing-actions-worker", []string{cfg.Subject})
	if err != nil {
		return fmt.Errorf("reconciler - startActionDispatch - CreateConsumer: %w", err)
	}

	go func() {
		err := js.ConsumeMessages(ctx, consumer, func(msg natsjetstream.Msg) error {
			action, err := actionqueue.DecodeAction(msg.Data())
			if err != nil {
				return err
			}
			return handler(ctx, action)
		})
		if err != nil && ctx.Err() == nil {
			logger.Error("action dispatch consumer stopped", zap.Error(err))
		}
	}()
	return nil
}

func buildAdapters(providers []string) map[string]adapter.Adapter {
	out := make(map[string]adapter.Adapter, len(providers))
	for _, name := range providers {
		baseURL := os.Getenv(envKeyForProvider(name))
		out[name] = httpadapter.New(httpadapter.Config{
			Name:                       name,
			BaseURL:                    baseURL,
			SupportsCancelSubscription: true,
			SupportsSubscribedEvent:    true,
		})
	}
	return out
}

func envKeyForProvider(name string) string {
	return "PROVIDER_" + strings.ToUpper(name) + "_BASE_URL"
}
