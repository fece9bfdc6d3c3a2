package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"math/rand/v2"
	"os"
	"runtime"

	"github.com/patrikeh/go-deep"
	"gorgonia.org/tensor"

	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
	"github.com/rocketscienceinc/tictactoe-policy/internal/tictactoe"
)

const (
	ObservationSize = entity.BoardSize
	ActionSpace     = entity.BoardSize
)

var (
	ErrModelNotFound     = errors.New("model artifact not found")
	ErrCorruptModel      = errors.New("model artifact is corrupt")
	ErrIncompatibleModel = errors.New("model artifact is incompatible")
)

// Model - loaded policy. Immutable after Load; safe for concurrent Predict calls.
type Model struct {
	name            string
	version         int
	fingerprint     string
	hyperparameters map[string]any

	// go-deep keeps activations on the neurons, so every in-flight prediction needs its own replica.
	replicas chan *deep.Neural
	size     int

	random func() float64
}

type Option func(*Model)

// WithWorkers sets how many predictions can run at once.
func WithWorkers(n int) Option {
	return func(m *Model) {
		if n > 0 {
			m.size = n
		}
	}
}

// WithRandom replaces the source used for stochastic selection.
func WithRandom(random func() float64) Option {
	return func(m *Model) {
		m.random = random
	}
}

// Load reads the artifact at path. Overrides are merged over the artifact's hyperparameters;
// they are kept as metadata only and never change predictions.
func Load(path string, overrides map[string]any, opts ...Option) (*Model, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, path)
	}

	if err != nil {
		return nil, fmt.Errorf("could not read model artifact: %w", err)
	}

	var artifact Artifact
	if err = json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}

	if len(artifact.Network) == 0 {
		return nil, fmt.Errorf("%w: network is missing", ErrCorruptModel)
	}

	sum := sha256.Sum256(data)

	model := &Model{
		name:            artifact.Name,
		version:         artifact.Version,
		fingerprint:     hex.EncodeToString(sum[:])[:16],
		hyperparameters: make(map[string]any, len(artifact.Hyperparameters)+len(overrides)),
		size:            runtime.NumCPU(),
		random:          rand.Float64,
	}

	for _, opt := range opts {
		opt(model)
	}

	maps.Copy(model.hyperparameters, artifact.Hyperparameters)
	maps.Copy(model.hyperparameters, overrides)

	model.replicas = make(chan *deep.Neural, model.size)
	for i := 0; i < model.size; i++ {
		net, err := decodeNetwork(artifact.Network)
		if err != nil {
			return nil, err
		}

		if err = validateNetwork(net); err != nil {
			return nil, err
		}

		model.replicas <- net
	}

	return model, nil
}

func (that *Model) Name() string {
	return that.name
}

func (that *Model) Version() int {
	return that.version
}

// Fingerprint - short digest of the artifact bytes.
func (that *Model) Fingerprint() string {
	return that.fingerprint
}

// Metadata returns a copy of the hyperparameters the model was loaded with.
func (that *Model) Metadata() map[string]any {
	return maps.Clone(that.hyperparameters)
}

func (that *Model) Workers() int {
	return that.size
}

// Predict picks an action for the observation among the cells the mask allows.
func (that *Model) Predict(ctx context.Context, obs *tensor.Dense, mask entity.Mask, deterministic bool) (int, error) {
	features, err := observation(obs)
	if err != nil {
		return 0, err
	}

	scores, err := that.scores(ctx, features)
	if err != nil {
		return 0, err
	}

	if deterministic {
		return argmax(scores, mask)
	}

	return sample(scores, mask, that.random())
}

func (that *Model) scores(ctx context.Context, features []float64) ([]float64, error) {
	var net *deep.Neural
	select {
	case net = <-that.replicas:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { that.replicas <- net }()

	return net.Predict(features), nil
}

func observation(obs *tensor.Dense) ([]float64, error) {
	flat, err := tictactoe.Flatten(obs)
	if err != nil {
		return nil, fmt.Errorf("invalid observation: %w", err)
	}

	features := make([]float64, len(flat))
	for i, cell := range flat {
		features[i] = float64(cell)
	}

	return features, nil
}
