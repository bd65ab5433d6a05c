// Package app assembles the cloner from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/conduit-lang/cloner/internal/attachment"
	"github.com/conduit-lang/cloner/internal/blob"
	"github.com/conduit-lang/cloner/internal/cli/config"
	"github.com/conduit-lang/cloner/internal/cloner"
	"github.com/conduit-lang/cloner/internal/events"
	"github.com/conduit-lang/cloner/internal/metrics"
	"github.com/conduit-lang/cloner/internal/orm/datastore"
	"github.com/conduit-lang/cloner/internal/orm/schema"
	"github.com/conduit-lang/cloner/internal/orm/transaction"
	"github.com/conduit-lang/cloner/internal/service"
	"github.com/conduit-lang/cloner/internal/web/auth"
	"github.com/conduit-lang/cloner/internal/web/router"
	"github.com/conduit-lang/cloner/internal/web/stream"
)

// App holds every long-lived component
type App struct {
	Config     *config.Config
	Registry   *schema.Registry
	Datastores *datastore.Datastores
	Blobs      blob.Store
	Queue      *events.AsyncQueue
	Dispatcher *events.Dispatcher
	Metrics    *prometheus.Registry
	Collector  *metrics.Collector
	Engine     *cloner.Engine
	Duplicator *service.Duplicator
	Stream     *stream.Hub
	Logger     *zap.Logger

	// Auth is nil when server.auth.secret is empty
	Auth *auth.Authenticator

	closers []func() error
}

// New loads the schema and opens every configured backend. On error the
// parts opened so far are closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	var err error
	a.Registry, err = schema.LoadFile(cfg.SchemaFile)
	if err != nil {
		return err
	}

	a.Datastores, err = datastore.Open(ctx, datastoreConfigs(cfg), cfg.DefaultDatastore, a.Registry, logger.Named("datastore"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.Datastores.Close)

	a.Queue = events.NewAsyncQueue(cfg.Events.Workers, logger.Named("events"))
	a.Queue.Start()
	a.Dispatcher = events.NewDispatcher(events.WithQueue(a.Queue), events.WithLogger(logger.Named("events")))

	a.Metrics = prometheus.NewRegistry()
	a.Metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Collector = metrics.NewCollector(a.Metrics)
	a.Collector.Attach(a.Dispatcher)

	if cfg.Server.Auth.Secret != "" {
		a.Auth = auth.New(cfg.Server.Auth.Secret, cfg.Server.Auth.TokenTTL)
	}

	err = a.openBridges()
	a.closers = append(a.closers, func() error {
		a.Queue.Shutdown()
		return nil
	})
	if err != nil {
		return err
	}

	opts := append(a.Datastores.Options(),
		cloner.WithEvents(a.Dispatcher),
		cloner.WithLogger(logger.Named("cloner")),
	)
	if cfg.Attachments.Driver != "none" {
		a.Blobs, err = blob.Open(ctx, blobConfig(cfg.Attachments))
		if err != nil {
			return fmt.Errorf("failed to open attachment store: %w", err)
		}
		opts = append(opts, cloner.WithAttachments(attachment.NewBlobDuplicator(a.Blobs,
			attachment.WithPrefix(cfg.Attachments.Prefix),
			attachment.WithLogger(logger.Named("attachment")),
		)))
	}
	a.Engine = cloner.New(opts...)

	a.Duplicator = service.NewDuplicator(a.Engine, a.Datastores,
		service.WithCollector(a.Collector),
		service.WithLogger(logger.Named("service")),
		service.WithRetry(&transaction.RetryConfig{
			MaxRetries:  cfg.Atomic.MaxRetries,
			BaseBackoff: cfg.Atomic.BaseBackoff,
			Timeout:     cfg.Atomic.Timeout,
		}),
	)
	return nil
}

func (a *App) openBridges() error {
	ev := a.Config.Events

	a.Stream = stream.NewHub(stream.WithLogger(a.Logger.Named("stream")))
	ctx, stop := context.WithCancel(context.Background())
	go a.Stream.Run(ctx)
	a.closers = append(a.closers, func() error {
		stop()
		<-a.Stream.Done()
		return nil
	})
	if err := a.Dispatcher.ListenAsync(events.PatternAll, a.Stream.Listener()); err != nil {
		return err
	}

	if ev.Redis.Addr != "" {
		bridge, err := events.NewRedisBridge(events.RedisConfig{
			Addr:     ev.Redis.Addr,
			Password: ev.Redis.Password,
			DB:       ev.Redis.DB,
			Channel:  ev.Redis.Channel,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bridge.Close)
		if err := a.Dispatcher.ListenAsync(events.PatternAll, bridge.Listener()); err != nil {
			return err
		}
		a.Logger.Info("forwarding events to redis", zap.String("channel", bridge.Channel()))
	}

	if ev.AMQP.URL != "" {
		bridge, err := events.DialAMQP(ev.AMQP.URL, ev.AMQP.Exchange)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, bridge.Close)
		if err := a.Dispatcher.ListenAsync(events.PatternAll, bridge.Listener()); err != nil {
			return err
		}
		a.Logger.Info("forwarding events to amqp", zap.String("exchange", ev.AMQP.Exchange))
	}

	return nil
}

// Handler returns the HTTP API
func (a *App) Handler() http.Handler {
	cfg := router.APIConfig{
		Duplicator: a.Duplicator,
		Collector:  a.Collector,
		Gatherer:   a.Metrics,
		Health:     a.Datastores.Ping,
		Events:     a.Stream,
		Logger:     a.Logger.Named("http"),
	}
	if a.Auth != nil {
		cfg.Auth = a.Auth.Middleware()
	}
	return router.NewAPI(cfg)
}

// Close releases every backend in reverse opening order. The event queue
// drains before bridges and datastores close.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func datastoreConfigs(cfg *config.Config) map[string]datastore.Config {
	out := make(map[string]datastore.Config, len(cfg.Datastores))
	for name, ds := range cfg.Datastores {
		out[name] = datastore.Config{Driver: ds.Driver, DSN: ds.DSN}
	}
	return out
}

func blobConfig(cfg config.AttachmentsConfig) blob.Config {
	return blob.Config{
		Driver: blob.Driver(cfg.Driver),
		Root:   cfg.Root,
		S3: blob.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
	}
}
