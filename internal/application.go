package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"github.com/rocketscienceinc/tictactoe-policy/internal/config"
	"github.com/rocketscienceinc/tictactoe-policy/internal/policy"
	"github.com/rocketscienceinc/tictactoe-policy/internal/repository"
	"github.com/rocketscienceinc/tictactoe-policy/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-policy/internal/service"
	"github.com/rocketscienceinc/tictactoe-policy/internal/tictactoe"
	"github.com/rocketscienceinc/tictactoe-policy/transport/rest"
)

var ErrAddrNotFound = errors.New("redis address string is empty")

// App - everything a request needs, built once before serving.
type App struct {
	Model *policy.Model
	Moves service.MoveService

	closers []func() error
}

// New loads the model and wires the move service. Any failure here must stop the process
// before a listener is opened.
func New(ctx context.Context, logger *slog.Logger, conf *config.Config) (*App, error) {
	log := logger.With("component", "app")

	modelPath, err := conf.ModelPath()
	if err != nil {
		return nil, err
	}

	model, err := policy.Load(modelPath, conf.Model.Overrides, policy.WithWorkers(conf.Model.Workers))
	if err != nil {
		return nil, fmt.Errorf("could not load policy model: %w", err)
	}

	log.Info("Policy model loaded",
		"path", modelPath,
		"name", model.Name(),
		"version", model.Version(),
		"fingerprint", model.Fingerprint(),
		"workers", model.Workers(),
	)

	app := &App{Model: model}

	var cache repository.DecisionRepository
	if conf.Cache.Enabled {
		if conf.Cache.Redis.Host == "" {
			return nil, ErrAddrNotFound
		}

		redisAddrString := conf.Cache.Redis.GetRedisAddr()

		redisStorage, err := storage.NewRedisStorage(ctx, redisAddrString)
		if err != nil {
			return nil, fmt.Errorf("could not connect to redis storage: %w", err)
		}

		app.closers = append(app.closers, redisStorage.Close)
		cache = repository.NewDecisionRepository(redisStorage.Connection, conf.Cache.TTL)

		log.Info("Decision cache enabled", "addr", redisAddrString, "ttl", conf.Cache.TTL)
	}

	encoder := tictactoe.NewEncoder(conf.Board.StrictMarkers)
	app.Moves = service.NewMoveService(logger, encoder, model, cache)

	log.Info("Move service ready", "strict_markers", encoder.Strict(), "cache", cache != nil)

	return app, nil
}

func (that *App) Close() error {
	var errs error
	for _, closeFn := range that.closers {
		if err := closeFn(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return errs
}

// RunApp - runs the application.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := New(ctx, logger, conf)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			log.Error("could not close application", "error", closeErr)
		}
	}()

	server := rest.New(logger, conf.HTTPPort, app.Moves)
	if err = server.Start(ctx); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	log.Info("Application context canceled, shutting down")

	return nil
}
