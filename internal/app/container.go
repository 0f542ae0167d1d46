package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockledger/internal/catalog"
	"github.com/odyssey-erp/stockledger/internal/closing"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/ledger"
	"github.com/odyssey-erp/stockledger/internal/lots"
	"github.com/odyssey-erp/stockledger/internal/memstore"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/objectstore"
	"github.com/odyssey-erp/stockledger/internal/reorder"
	"github.com/odyssey-erp/stockledger/internal/reports"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/uom"
	"github.com/odyssey-erp/stockledger/jobs"
)

type auditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// backend is one storage implementation of every repository port.
type backend struct {
	catalog     catalog.RepositoryPort
	ledger      ledger.RepositoryPort
	lots        lots.RepositoryPort
	documents   documents.RepositoryPort
	closing     closing.RepositoryPort
	reorder     reorder.RepositoryPort
	audit       auditRecorder
	idempotency shared.IdempotencyPort
	locker      shared.Locker
	demandCache reorder.Cache
	queue       documents.DepletionQueue
	redisOpts   *asynq.RedisClientOpt
}

// Container holds the wired services shared by the API server and the worker.
type Container struct {
	Catalog     *catalog.Service
	Ledger      *ledger.Service
	Lots        *lots.Service
	Documents   *documents.Service
	Closing     *closing.Service
	Reorder     *reorder.Service
	Reports     *reports.Service
	Idempotency shared.IdempotencyPort
	Metrics     *observability.Metrics

	// RedisOpts is nil for the memory store; asynq is unavailable then.
	RedisOpts *asynq.RedisClientOpt

	closers []func()
}

// Close releases pools and clients in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// NewContainer opens the configured store and wires every service.
func NewContainer(ctx context.Context, cfg *Config, logger *slog.Logger, metrics *observability.Metrics) (*Container, error) {
	c := &Container{Metrics: metrics}
	var (
		b   backend
		err error
	)
	switch cfg.Store {
	case StoreMemory:
		b = memoryBackend()
		logger.Warn("using in-memory store, data is lost on restart")
	default:
		b, err = c.postgresBackend(ctx, cfg, logger)
		if err != nil {
			c.Close()
			return nil, err
		}
	}
	c.RedisOpts = b.redisOpts
	c.Idempotency = b.idempotency

	c.Catalog = catalog.NewService(b.catalog, b.audit)
	c.Ledger = ledger.NewService(b.ledger, logger)
	c.Lots = lots.NewService(b.lots, b.audit, logger)
	c.Documents = documents.NewService(b.documents, c.Catalog, uom.NewResolver(c.Catalog), c.Ledger, b.audit, documents.ServiceConfig{
		ProductionCode: cfg.DepletionProductionCode,
		LockTTL:        cfg.LockTTL,
	}, logger)
	c.Documents.WithLocker(b.locker)
	c.Documents.WithIdempotency(b.idempotency)
	if b.queue != nil {
		c.Documents.WithQueue(b.queue)
	}

	c.Closing = closing.NewService(b.closing, c.Ledger, c.Documents, c.Lots, c.Catalog, b.audit, closing.ServiceConfig{
		Tolerance: cfg.Tolerance(),
		LockTTL:   cfg.LockTTL,
	}, logger)
	c.Closing.WithLocker(b.locker)
	if cfg.ObjectStoreEnabled() {
		store, err := objectstore.NewMinio(objectstore.Config{
			Endpoint:  cfg.ObjectStoreEndpoint,
			AccessKey: cfg.ObjectStoreAccessKey,
			SecretKey: cfg.ObjectStoreSecretKey,
			Bucket:    cfg.ObjectStoreBucket,
			UseSSL:    cfg.ObjectStoreUseSSL,
		})
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Closing.WithObjectStore(store)
	}

	c.Reorder = reorder.NewService(b.reorder, c.Ledger, c.Documents, c.Catalog, b.audit, reorder.ServiceConfig{
		DemandCacheTTL: cfg.DemandCacheTTL,
		LockTTL:        cfg.LockTTL,
	}, logger)
	c.Reorder.WithLocker(b.locker)
	if b.demandCache != nil {
		c.Reorder.WithCache(b.demandCache)
	}

	c.Reports = reports.NewService(c.Documents, c.Catalog, c.Closing, c.Reorder, c.Ledger, c.Lots, logger)

	if metrics != nil {
		c.Ledger.WithMetrics(metrics)
		c.Documents.WithMetrics(metrics)
	}
	return c, nil
}

func memoryBackend() backend {
	store := memstore.New()
	return backend{
		catalog:     store.Catalog(),
		ledger:      store.Ledger(),
		lots:        store.Lots(),
		documents:   store.Documents(),
		closing:     store.Closing(),
		reorder:     store.Reorder(),
		audit:       store,
		idempotency: store.Idempotency(),
		locker:      store,
	}
}

func (c *Container) postgresBackend(ctx context.Context, cfg *Config, logger *slog.Logger) (backend, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return backend{}, err
	}
	c.closers = append(c.closers, pool.Close)
	if cfg.PGAutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return backend{}, err
		}
		logger.Info("schema applied")
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		return backend{}, fmt.Errorf("app: redis: %w", err)
	}
	c.closers = append(c.closers, func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	})

	redisOpts := &asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	queue := jobs.NewClient(*redisOpts, cfg.DepletionMaxAttempts)
	c.closers = append(c.closers, func() {
		if err := queue.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	})

	return backend{
		catalog:     catalog.NewRepository(pool),
		ledger:      ledger.NewRepository(pool),
		lots:        lots.NewRepository(pool),
		documents:   documents.NewRepository(pool),
		closing:     closing.NewRepository(pool),
		reorder:     reorder.NewRepository(pool),
		audit:       shared.NewAuditLogger(pool),
		idempotency: shared.NewIdempotencyStore(pool),
		locker:      cache.NewLocker(redisClient),
		demandCache: cache.NewStore(redisClient, "stockledger:demand:"),
		queue:       queue,
		redisOpts:   redisOpts,
	}, nil
}
