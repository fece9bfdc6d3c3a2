package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	app "github.com/rocketscienceinc/tictactoe-policy/internal"
	"github.com/rocketscienceinc/tictactoe-policy/internal/config"
	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
	"github.com/rocketscienceinc/tictactoe-policy/internal/policy"
)

// main - is the entry point of the application. It loads .env, parses the command line and runs the chosen command.
func main() {
	defer func() {
		if err := recover(); err != nil {
			fmt.Fprintf(os.Stderr, "recovered from panic: %v\n", err)
			os.Exit(1)
		}
	}()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "could not load .env file: %v\n", err)
	}

	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		panic(fmt.Errorf("app run failed: %w", err))
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "tictactoe-policy",
		Usage: "serve a pretrained tic-tac-toe policy over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "config.yml",
				Usage:   "config file, relative to the base directory",
				Sources: cli.EnvVars("CONFIG_PATH"),
			},
			&cli.StringFlag{
				Name:    "base-dir",
				Usage:   "directory relative paths are resolved against (default: executable directory)",
				Sources: cli.EnvVars("BASE_DIR"),
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP server",
				Action: serve,
			},
			{
				Name:      "predict",
				Usage:     "decide one move and print it as JSON",
				ArgsUsage: "CELL... (9 cells, X, O or _ for empty)",
				Action:    predict,
			},
			{
				Name:   "inspect",
				Usage:  "print the model metadata",
				Action: inspect,
			},
			{
				Name:  "export-uniform",
				Usage: "write an untrained policy that always takes the lowest empty cell",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "artifact path", Required: true},
					&cli.StringFlag{Name: "name", Value: "uniform", Usage: "model name"},
				},
				Action: exportUniform,
			},
		},
	}
}

func serve(_ context.Context, cmd *cli.Command) error {
	conf := initConfig(cmd)
	logger := initLogger(conf, os.Stdout)

	return app.RunApp(logger, conf)
}

func predict(ctx context.Context, cmd *cli.Command) error {
	conf := initConfig(cmd)
	logger := initLogger(conf, os.Stderr)

	application, err := app.New(ctx, logger, conf)
	if err != nil {
		return err
	}
	defer closeApp(logger, application)

	move, err := application.Moves.Decide(ctx, parseBoard(cmd.Args().Slice()))
	if err != nil {
		return fmt.Errorf("could not decide move: %w", err)
	}

	result := entity.Move{Cell: move}
	logger.Debug("move decided", "move", result.String())

	return json.NewEncoder(cmd.Root().Writer).Encode(result)
}

func inspect(_ context.Context, cmd *cli.Command) error {
	conf := initConfig(cmd)

	modelPath, err := conf.ModelPath()
	if err != nil {
		return err
	}

	model, err := policy.Load(modelPath, conf.Model.Overrides, policy.WithWorkers(1))
	if err != nil {
		return fmt.Errorf("could not load policy model: %w", err)
	}

	encoder := json.NewEncoder(cmd.Root().Writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(map[string]any{
		"path":            modelPath,
		"name":            model.Name(),
		"version":         model.Version(),
		"fingerprint":     model.Fingerprint(),
		"hyperparameters": model.Metadata(),
	})
}

func exportUniform(_ context.Context, cmd *cli.Command) error {
	file, err := os.Create(cmd.String("out"))
	if err != nil {
		return fmt.Errorf("could not create artifact: %w", err)
	}

	if err = policy.Save(file, policy.NewUniform(), cmd.String("name"), 1, nil); err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}

// closeApp - close errors only get logged, the command result is already decided.
func closeApp(logger *slog.Logger, closer io.Closer) {
	if err := closer.Close(); err != nil {
		logger.Error("could not close application", "error", err)
	}
}

// parseBoard - "_", "-" and "." stand for empty cells on the command line.
func parseBoard(args []string) entity.Board {
	board := make(entity.Board, len(args))
	for i, arg := range args {
		switch arg {
		case "_", "-", ".":
			board[i] = entity.EmptyCell
		default:
			board[i] = arg
		}
	}

	return board
}

// initialize config.
func initConfig(cmd *cli.Command) *config.Config {
	baseDir := cmd.String("base-dir")
	if baseDir == "" {
		dir, err := config.ExecutableDir()
		if err != nil {
			panic(err)
		}
		baseDir = dir
	}

	conf := config.MustLoad(config.ResolvePath(baseDir, cmd.String("config")))
	conf.BaseDir = baseDir

	return conf
}

// initialize logger.
func initLogger(conf *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level

	switch conf.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}
