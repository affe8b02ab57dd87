package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/reelsync/reelsync-agent/internal/api"
	"github.com/reelsync/reelsync-agent/internal/clip"
	"github.com/reelsync/reelsync-agent/internal/config"
	"github.com/reelsync/reelsync-agent/internal/db"
	"github.com/reelsync/reelsync-agent/internal/logging"
	"github.com/reelsync/reelsync-agent/internal/media"
	"github.com/reelsync/reelsync-agent/internal/notify"
	"github.com/reelsync/reelsync-agent/internal/remote"
	"github.com/reelsync/reelsync-agent/internal/remote/fsblob"
	"github.com/reelsync/reelsync-agent/internal/remote/httpstore"
	"github.com/reelsync/reelsync-agent/internal/remote/sqltree"
	"github.com/reelsync/reelsync-agent/internal/service"
	"github.com/reelsync/reelsync-agent/internal/syncer"
)

const (
	keyDeviceID = "device_id"
	keyUserID   = "user_id"
)

// app holds everything a command needs, wired from config.
type app struct {
	cfg      *config.EnvConfig
	logger   *slog.Logger
	db       *db.DB
	repo     *service.SQLiteRepository
	registry *prometheus.Registry
	amqp     *notify.AMQPPublisher
	svc      *service.Service
	identity syncer.Identity

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.EnvConfig, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	ready := false
	defer func() {
		if !ready {
			a.Close()
		}
	}()

	var err error

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	a.db, err = db.New(cfg.DBPath(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	a.repo = service.NewRepository(a.db.Conn())

	if a.identity, err = resolveIdentity(ctx, cfg, a.repo); err != nil {
		return nil, err
	}

	store, closeStore, err := openRemote(cfg, a.identity.DeviceID, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	var publisher notify.Publisher = notify.NewLogPublisher(logger)
	if url := cfg.AMQPURL(); url != "" {
		a.amqp, err = notify.DialAMQP(url, a.identity.DeviceID, logger)
		if err != nil {
			logger.Warn("change notifications unavailable, falling back to polling", "error", err)
		} else {
			a.closers = append(a.closers, a.amqp.Close)
			publisher = a.amqp
		}
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	paths := clip.NewPaths(cfg.ClipsDir())
	engine := syncer.New(syncer.Config{
		Remote:      store,
		Paths:       paths,
		Identity:    a.identity,
		Logger:      logger,
		Metrics:     syncer.NewMetrics(a.registry),
		Publisher:   publisher,
		FanoutLimit: cfg.FanoutLimit(),
	})

	var thumbnailer media.Thumbnailer
	if ff, err := media.NewFFmpegThumbnailer("ffmpeg", logger); err != nil {
		logger.Warn("ffmpeg not found, clips will have no thumbnails", "error", err)
		thumbnailer = media.NewStubThumbnailer(logger)
	} else {
		thumbnailer = ff
	}

	a.svc, err = service.New(ctx, service.Config{
		Repo:        a.repo,
		Engine:      engine,
		Paths:       paths,
		Thumbnailer: thumbnailer,
		Limits:      cfg.TierLimits(),
		SyncVideos:  cfg.SyncVideos(),
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start service: %w", err)
	}
	ready = true
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// openRemote picks the remote backend: an HTTP store when a URL is set, a
// local sqlite tree plus blob directory when a directory is set, otherwise an
// in-process store that only lives as long as the agent.
func openRemote(cfg config.Config, deviceID string, logger *slog.Logger) (remote.Store, func() error, error) {
	noop := func() error { return nil }

	if url := cfg.RemoteURL(); url != "" {
		client := httpstore.New(url, cfg.RemoteToken(), logging.WithComponent(logger, "remote"))
		client.SetDeviceID(deviceID)
		logger.Info("using remote store", "url", url)
		return client, noop, nil
	}

	if dir := cfg.RemoteDir(); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create remote dir: %w", err)
		}
		tree, err := sqltree.Open(sqltree.DriverSQLite, filepath.Join(dir, "tree.db"))
		if err != nil {
			return nil, nil, err
		}
		blobs, err := fsblob.New(filepath.Join(dir, "blobs"))
		if err != nil {
			tree.Close()
			return nil, nil, err
		}
		logger.Info("using directory remote store", "dir", logging.SanitizePath(dir))
		return remote.Compose(tree, blobs), tree.Close, nil
	}

	logger.Warn("no remote store configured, clips will not leave this process")
	return remote.NewMemory(), noop, nil
}

func resolveIdentity(ctx context.Context, cfg config.Config, repo service.Repository) (syncer.Identity, error) {
	deviceID, err := ensureConfigValue(ctx, repo, keyDeviceID, func() (string, error) {
		return uuid.NewString(), nil
	})
	if err != nil {
		return syncer.Identity{}, fmt.Errorf("failed to ensure device ID: %w", err)
	}

	userID := cfg.UserID()
	if userID == "" {
		userID, err = ensureConfigValue(ctx, repo, keyUserID, func() (string, error) {
			return uuid.NewString(), nil
		})
		if err != nil {
			return syncer.Identity{}, fmt.Errorf("failed to ensure user ID: %w", err)
		}
	}

	return syncer.Identity{
		UserID:      userID,
		DisplayName: cfg.DisplayName(),
		DeviceID:    deviceID,
	}, nil
}

func ensureAuthToken(ctx context.Context, repo service.Repository) (string, error) {
	return ensureConfigValue(ctx, repo, api.AuthTokenKey, func() (string, error) {
		tokenBytes := make([]byte, 32)
		if _, err := rand.Read(tokenBytes); err != nil {
			return "", err
		}
		return hex.EncodeToString(tokenBytes), nil
	})
}

// ensureConfigValue returns the stored value for key, generating and storing
// one on first use.
func ensureConfigValue(ctx context.Context, repo service.Repository, key string, generate func() (string, error)) (string, error) {
	existing, err := repo.GetConfig(ctx, key)
	if err != nil {
		return "", err
	}
	if existing != "" {
		return existing, nil
	}

	value, err := generate()
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", errors.New("generated empty value")
	}
	if err := repo.SetConfig(ctx, key, value); err != nil {
		return "", err
	}
	return value, nil
}
