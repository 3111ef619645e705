package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jmehdipour/ingest-gateway/cmd/endpoints"
	"github.com/jmehdipour/ingest-gateway/internal/broker"
	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/db"
	"github.com/jmehdipour/ingest-gateway/internal/delivery"
	"github.com/jmehdipour/ingest-gateway/internal/dispatcher"
	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
	httpSrv "github.com/jmehdipour/ingest-gateway/internal/http"
	"github.com/jmehdipour/ingest-gateway/internal/kafka"
	"github.com/jmehdipour/ingest-gateway/internal/logger"
	"github.com/jmehdipour/ingest-gateway/internal/metrics"
	"github.com/jmehdipour/ingest-gateway/internal/natsjs"
	"github.com/jmehdipour/ingest-gateway/internal/repository"
)

// brokerClient is what serve needs from either broker implementation.
type brokerClient interface {
	broker.Publisher
	Healthy() bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logger.Init(cfg.Log.Level, cfg.Log.Encoding)
		defer logger.Sync()
		log := logger.Log

		metrics.MustRegister(prometheus.DefaultRegisterer)

		registry, err := endpoints.LoadRegistry(cfg)
		if err != nil {
			return err
		}
		log.Info("endpoints loaded", zap.Int("count", registry.Len()))

		// releases whatever was started, also when a later step fails; the
		// closes are no-ops after the ordered shutdown at the end
		var td teardown
		defer td.run()

		publisher, err := newBrokerClient(cmd.Context(), cfg, registry, log)
		if err != nil {
			return err
		}
		td.add(func() { _ = publisher.Close() })

		var (
			recorder   delivery.Recorder = delivery.Nop{}
			batch      *delivery.BatchWriter
			deliveries repository.DeliveriesRepository
			chDB       *sqlx.DB
		)
		if cfg.ClickHouse.Enabled {
			chDB, err = db.NewClickHouseConnection(cfg.ClickHouse.DatabaseConfig)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			td.add(func() { _ = chDB.Close() })

			deliveries = repository.NewDeliveriesRepository(chDB)
			batch = startDeliverySink(deliveries, cfg.Deliveries, log.Named("deliveries"), &td)
			recorder = batch
		}

		clients, closeClients, err := newClientsRepository(cfg)
		if err != nil {
			return err
		}
		td.add(closeClients)

		var redisClient *redis.Client
		if cfg.Redis.Addr != "" {
			redisClient, err = db.NewRedisClient(cfg.Redis)
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			td.add(func() { _ = redisClient.Close() })
		}

		d := dispatcher.New(registry, publisher,
			dispatcher.WithRecorder(recorder),
			dispatcher.WithLogger(log.Named("dispatcher")),
		)

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Dispatcher: d,
			Clients:    clients,
			Redis:      redisClient,
			Deliveries: deliveries,
			Health: func() error {
				if !publisher.Healthy() {
					return errors.New("broker unavailable")
				}
				return nil
			},
			Log: log.Named("http"),
		})

		errCh := make(chan error, 1)
		go func() {
			log.Info("starting http", zap.String("addr", cfg.HTTP.Addr), zap.String("broker", cfg.Broker.Kind))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), httpSrv.ShutdownTimeout(cfg.HTTP))
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn("http shutdown", zap.Error(err))
		}

		// outstanding futures complete during Close, so their deliveries reach the batch writer
		if err := publisher.Close(); err != nil {
			log.Warn("broker close", zap.Error(err))
		}
		if batch != nil {
			batch.Close()
		}

		return nil
	},
}

// teardown runs registered cleanups in reverse order.
type teardown []func()

func (t *teardown) add(fn func()) { *t = append(*t, fn) }

func (t *teardown) run() {
	for i := len(*t) - 1; i >= 0; i-- {
		(*t)[i]()
	}
	*t = nil
}

// startDeliverySink runs a batch writer over store until td runs.
func startDeliverySink(store delivery.Store, cfg config.DeliveriesConfig, log *zap.Logger, td *teardown) *delivery.BatchWriter {
	w := delivery.NewBatchWriter(store, cfg, log)
	go w.Run(context.Background())
	td.add(w.Close)
	return w
}

func newBrokerClient(ctx context.Context, cfg config.Config, registry *endpoint.Registry, log *zap.Logger) (brokerClient, error) {
	switch cfg.Broker.Kind {
	case "", "kafka":
		p, err := kafka.NewProducer(cfg.Kafka, log.Named("kafka"))
		if err != nil {
			return nil, fmt.Errorf("kafka producer: %w", err)
		}
		return p, nil

	case "nats":
		p, err := natsjs.NewPublisher(cfg.NATS, log.Named("nats"))
		if err != nil {
			return nil, err
		}
		if cfg.NATS.Stream != "" {
			sctx, cancel := context.WithTimeout(ctx, cfg.NATS.Timeout)
			defer cancel()
			if err := p.EnsureStream(sctx, cfg.NATS.Stream, topics(registry)); err != nil {
				_ = p.Close()
				return nil, err
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("unknown broker kind %q", cfg.Broker.Kind)
	}
}

func newClientsRepository(cfg config.Config) (repository.ClientsRepository, func(), error) {
	if !cfg.Auth.Enabled {
		return nil, func() {}, nil
	}

	switch cfg.Auth.Source {
	case "", "static":
		return repository.NewStaticClients(cfg.Auth.StaticKeys), func() {}, nil
	case "mysql":
		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return nil, nil, fmt.Errorf("mysql connect: %w", err)
		}
		return repository.NewClientsRepository(mysqlDB), func() { _ = mysqlDB.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown auth source %q", cfg.Auth.Source)
	}
}

func topics(registry *endpoint.Registry) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, d := range registry.All() {
		if _, ok := seen[d.Topic]; ok {
			continue
		}
		seen[d.Topic] = struct{}{}
		out = append(out, d.Topic)
	}
	sort.Strings(out)
	return out
}
