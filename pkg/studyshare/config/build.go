package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/studyshare/pkg/studyshare"
	activitymemory "github.com/tendant/studyshare/pkg/studyshare/activity/memory"
	activitymongo "github.com/tendant/studyshare/pkg/studyshare/activity/mongo"
	ledgermemory "github.com/tendant/studyshare/pkg/studyshare/ledger/memory"
	ledgerredis "github.com/tendant/studyshare/pkg/studyshare/ledger/redis"
	"github.com/tendant/studyshare/pkg/studyshare/metrics"
	"github.com/tendant/studyshare/pkg/studyshare/repo/memory"
	repopg "github.com/tendant/studyshare/pkg/studyshare/repo/postgres"
	fsstorage "github.com/tendant/studyshare/pkg/studyshare/storage/fs"
	memorystorage "github.com/tendant/studyshare/pkg/studyshare/storage/memory"
	miniostorage "github.com/tendant/studyshare/pkg/studyshare/storage/minio"
	s3storage "github.com/tendant/studyshare/pkg/studyshare/storage/s3"
)

// Runtime is a built service together with the backends it depends on.
type Runtime struct {
	Service    studyshare.Service
	Repository studyshare.Repository
	Ledger     studyshare.AuditLedger
	Metrics    *metrics.Collector

	closers []func(context.Context) error
}

// Close drains the service and releases backend connections.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.Service != nil {
		errs = append(errs, r.Service.Close(ctx))
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// Build wires every configured backend into a Service. Remote blob stores
// finish their readiness handshake in the background, bound to ctx.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger, extra ...studyshare.Option) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Metrics: metrics.New()}
	fail := func(err error) (*Runtime, error) {
		_ = rt.Close(context.Background())
		return nil, err
	}

	repo, err := c.buildRepository(ctx, rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build repository: %w", err))
	}
	rt.Repository = repo

	options := []studyshare.Option{
		studyshare.WithLogger(logger),
		studyshare.WithRepository(repo),
		studyshare.WithDefaultBlobStore(c.DefaultStorageBackend),
		studyshare.WithRelevanceThreshold(c.RelevanceThreshold),
		studyshare.WithHooks(rt.Metrics.Hooks()),
	}

	for _, backendConfig := range c.StorageBackends {
		store, err := c.buildStorageBackend(ctx, logger, backendConfig)
		if err != nil {
			return fail(fmt.Errorf("failed to build storage backend %s: %w", backendConfig.Name, err))
		}
		options = append(options, studyshare.WithBlobStore(backendConfig.Name, store))
	}

	activity, err := c.buildActivityLog(ctx, rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build activity log: %w", err))
	}
	options = append(options, studyshare.WithActivityLog(activity))

	ledger, err := c.buildLedger(rt)
	if err != nil {
		return fail(fmt.Errorf("failed to build audit ledger: %w", err))
	}
	rt.Ledger = ledger
	options = append(options, studyshare.WithAuditLedger(ledger,
		studyshare.WithQueueSize(c.AuditQueueSize),
		studyshare.WithWorkers(c.AuditWorkers),
		studyshare.WithDispatcherLogger(logger),
		studyshare.WithDropHandler(rt.Metrics.DropHandler(nil)),
	))

	svc, err := studyshare.New(append(options, extra...)...)
	if err != nil {
		return fail(err)
	}
	rt.Service = svc
	return rt, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, rt *Runtime) (studyshare.Repository, error) {
	switch c.DatabaseType {
	case "memory":
		return memory.New(), nil
	case "postgres":
		if c.AutoMigrate {
			if _, err := repopg.MigrateDSN(ctx, c.DatabaseURL); err != nil {
				return nil, err
			}
		}
		pool, err := repopg.NewPool(ctx, c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error {
			pool.Close()
			return nil
		})
		return repopg.New(pool), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}
}

// buildStorageBackend creates a BlobStore based on the backend configuration
func (c *ServerConfig) buildStorageBackend(ctx context.Context, logger *slog.Logger, config StorageBackendConfig) (studyshare.BlobStore, error) {
	switch config.Type {
	case "memory":
		return memorystorage.New(), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{
			BaseDir: getString(config.Config, "base_dir", "./data/storage"),
		})

	case "s3":
		backend, err := s3storage.New(s3storage.Config{
			Region:                 getString(config.Config, "region", "us-east-1"),
			Bucket:                 getString(config.Config, "bucket", ""),
			AccessKeyID:            getString(config.Config, "access_key_id", ""),
			SecretAccessKey:        getString(config.Config, "secret_access_key", ""),
			Endpoint:               getString(config.Config, "endpoint", ""),
			UsePathStyle:           getBool(config.Config, "use_path_style", false),
			EnableSSE:              getBool(config.Config, "enable_sse", false),
			SSEAlgorithm:           getString(config.Config, "sse_algorithm", "AES256"),
			SSEKMSKeyID:            getString(config.Config, "sse_kms_key_id", ""),
			CreateBucketIfNotExist: getBool(config.Config, "create_bucket_if_not_exist", false),
		})
		if err != nil {
			return nil, err
		}
		backend.Start(ctx, logger)
		return backend, nil

	case "minio":
		backend, err := miniostorage.New(miniostorage.Config{
			Endpoint:  getString(config.Config, "endpoint", ""),
			AccessKey: getString(config.Config, "access_key", ""),
			SecretKey: getString(config.Config, "secret_key", ""),
			Bucket:    getString(config.Config, "bucket", ""),
			UseSSL:    getBool(config.Config, "use_ssl", false),
		})
		if err != nil {
			return nil, err
		}
		backend.Start(ctx, logger)
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", config.Type)
	}
}

func (c *ServerConfig) buildActivityLog(ctx context.Context, rt *Runtime) (studyshare.ActivityLog, error) {
	switch c.ActivityType {
	case "memory":
		return activitymemory.New(), nil
	case "mongodb":
		log, client, err := activitymongo.Connect(ctx, c.ActivityURL, c.ActivityDatabase, 10*time.Second)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, client.Disconnect)
		return log, nil
	default:
		return nil, fmt.Errorf("unsupported activity log type: %s", c.ActivityType)
	}
}

func (c *ServerConfig) buildLedger(rt *Runtime) (studyshare.AuditLedger, error) {
	switch c.LedgerType {
	case "memory":
		return ledgermemory.New(), nil
	case "none":
		return studyshare.NewNoopAuditLedger(), nil
	case "redis":
		ledger, client, err := ledgerredis.NewFromURL(c.LedgerURL)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
		return ledger, nil
	default:
		return nil, fmt.Errorf("unsupported audit ledger type: %s", c.LedgerType)
	}
}
