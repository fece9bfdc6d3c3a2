package policy

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/patrikeh/go-deep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-policy/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
	"github.com/rocketscienceinc/tictactoe-policy/internal/tictactoe"
)

// newNetwork - single softmax layer, weights[action][cell].
func newNetwork(t *testing.T, inputs, outputs int, weights [][]float64) *deep.Neural {
	t.Helper()

	net := deep.NewNeural(&deep.Config{
		Inputs:     inputs,
		Layout:     []int{outputs},
		Activation: deep.ActivationLinear,
		Mode:       deep.ModeMultiClass,
		Weight:     deep.NewUniform(0, 0),
		Bias:       false,
	})

	if weights != nil {
		net.ApplyWeights([][][]float64{weights})
	}

	return net
}

func zeroWeights() [][]float64 {
	weights := make([][]float64, ActionSpace)
	for i := range weights {
		weights[i] = make([]float64, ObservationSize)
	}

	return weights
}

func writeArtifact(t *testing.T, net *deep.Neural, hyperparameters map[string]any) string {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, Save(&buf, net, "test-policy", 3, hyperparameters))

	path := filepath.Join(t.TempDir(), "policy.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path
}

func encode(t *testing.T, board entity.Board) *tictactoe.Encoded {
	t.Helper()

	encoded, err := tictactoe.Encode(board)
	require.NoError(t, err)

	return encoded
}

func TestLoad(t *testing.T) {
	t.Run("Loads artifact metadata", func(t *testing.T) {
		// Given: an artifact with hyperparameters
		path := writeArtifact(t, NewUniform(), map[string]any{"clip_range": 0.2, "gamma": 0.99})

		// When: loading with overrides
		model, err := Load(path, map[string]any{"clip_range": 0.0, "lr_schedule": 0.0}, WithWorkers(2))
		require.NoError(t, err)

		// Then: metadata is merged with overrides taking precedence
		assert.Equal(t, "test-policy", model.Name())
		assert.Equal(t, 3, model.Version())
		assert.Equal(t, 2, model.Workers())
		assert.Len(t, model.Fingerprint(), 16)
		assert.Equal(t, map[string]any{"clip_range": 0.0, "gamma": 0.99, "lr_schedule": 0.0}, model.Metadata())
	})

	t.Run("Metadata is a copy", func(t *testing.T) {
		path := writeArtifact(t, NewUniform(), map[string]any{"gamma": 0.99})
		model, err := Load(path, nil, WithWorkers(1))
		require.NoError(t, err)

		meta := model.Metadata()
		meta["gamma"] = 0.5

		assert.Equal(t, 0.99, model.Metadata()["gamma"])
	})

	t.Run("Same artifact gives the same fingerprint", func(t *testing.T) {
		path := writeArtifact(t, NewUniform(), nil)

		first, err := Load(path, nil, WithWorkers(1))
		require.NoError(t, err)
		second, err := Load(path, map[string]any{"clip_range": 0.1}, WithWorkers(1))
		require.NoError(t, err)

		assert.Equal(t, first.Fingerprint(), second.Fingerprint())
	})

	t.Run("Missing file", func(t *testing.T) {
		model, err := Load(filepath.Join(t.TempDir(), "missing.json"), nil)

		require.ErrorIs(t, err, ErrModelNotFound)
		assert.Nil(t, model)
	})

	t.Run("Corrupt file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 not a policy"), 0o600))

		_, err := Load(path, nil)

		require.ErrorIs(t, err, ErrCorruptModel)
	})

	t.Run("Artifact without network", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"name":"empty","version":1}`), 0o600))

		_, err := Load(path, nil)

		require.ErrorIs(t, err, ErrCorruptModel)
	})

	t.Run("Network that does not match its layout", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "policy.json")
		body := `{"name":"broken","version":1,"network":{"Config":{"Inputs":9,"Layout":[9],"Mode":2},"Weights":[[[1]]]}}`
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

		_, err := Load(path, nil, WithWorkers(1))

		require.ErrorIs(t, err, ErrCorruptModel)
	})

	t.Run("Wrong observation size", func(t *testing.T) {
		path := writeArtifact(t, newNetwork(t, 27, ActionSpace, nil), nil)

		_, err := Load(path, nil, WithWorkers(1))

		require.ErrorIs(t, err, ErrIncompatibleModel)
	})

	t.Run("Wrong action space", func(t *testing.T) {
		path := writeArtifact(t, newNetwork(t, ObservationSize, 3, nil), nil)

		_, err := Load(path, nil, WithWorkers(1))

		require.ErrorIs(t, err, ErrIncompatibleModel)
	})
}

func TestModel_Predict(t *testing.T) {
	ctx := context.Background()

	t.Run("Picks the highest scoring legal cell", func(t *testing.T) {
		// Given: a policy that answers an X in the corner with the center
		weights := zeroWeights()
		weights[4][0] = 1
		model, err := Load(writeArtifact(t, newNetwork(t, ObservationSize, ActionSpace, weights), nil), nil, WithWorkers(1))
		require.NoError(t, err)

		encoded := encode(t, entity.Board{entity.PlayerX, "", "", "", "", "", "", "", ""})

		// When: predicting deterministically
		move, err := model.Predict(ctx, encoded.Tensor, encoded.Mask, true)

		// Then: the center is chosen
		require.NoError(t, err)
		assert.Equal(t, 4, move)
	})

	t.Run("Never picks an occupied cell", func(t *testing.T) {
		// Given: a policy that scores the occupied corner highest
		weights := zeroWeights()
		weights[0][0] = 5
		model, err := Load(writeArtifact(t, newNetwork(t, ObservationSize, ActionSpace, weights), nil), nil, WithWorkers(1))
		require.NoError(t, err)

		encoded := encode(t, entity.Board{entity.PlayerX, "", "", "", "", "", "", "", ""})

		// When: predicting
		move, err := model.Predict(ctx, encoded.Tensor, encoded.Mask, true)

		// Then: the lowest of the equally scored legal cells is chosen
		require.NoError(t, err)
		assert.Equal(t, 1, move)
	})

	t.Run("Single empty cell is the only answer", func(t *testing.T) {
		model, err := Load(writeArtifact(t, NewUniform(), nil), nil, WithWorkers(1))
		require.NoError(t, err)

		x, o := entity.PlayerX, entity.PlayerO
		encoded := encode(t, entity.Board{x, o, x, o, x, o, o, "", x})

		move, err := model.Predict(ctx, encoded.Tensor, encoded.Mask, true)

		require.NoError(t, err)
		assert.Equal(t, 7, move)
	})

	t.Run("Full board has no legal moves", func(t *testing.T) {
		model, err := Load(writeArtifact(t, NewUniform(), nil), nil, WithWorkers(1))
		require.NoError(t, err)

		x, o := entity.PlayerX, entity.PlayerO
		encoded := encode(t, entity.Board{x, o, x, o, x, o, o, x, o})

		_, err = model.Predict(ctx, encoded.Tensor, encoded.Mask, true)

		require.ErrorIs(t, err, apperror.ErrNoLegalMoves)
	})

	t.Run("Deterministic predictions repeat", func(t *testing.T) {
		weights := zeroWeights()
		for action := range weights {
			for cell := range weights[action] {
				weights[action][cell] = float64((action*7+cell*3)%5) - 2
			}
		}
		model, err := Load(writeArtifact(t, newNetwork(t, ObservationSize, ActionSpace, weights), nil), nil, WithWorkers(1))
		require.NoError(t, err)

		encoded := encode(t, entity.Board{entity.PlayerX, entity.PlayerO, "", "", entity.PlayerX, "", "", "", ""})

		first, err := model.Predict(ctx, encoded.Tensor, encoded.Mask, true)
		require.NoError(t, err)

		for i := 0; i < 20; i++ {
			move, err := model.Predict(ctx, encoded.Tensor, encoded.Mask, true)
			require.NoError(t, err)
			assert.Equal(t, first, move)
		}
	})

	t.Run("Stochastic selection uses the random source", func(t *testing.T) {
		// Given: uniform scores and a fixed random draw near one
		model, err := Load(writeArtifact(t, NewUniform(), nil), nil, WithWorkers(1), WithRandom(func() float64 { return 0.99 }))
		require.NoError(t, err)

		encoded := encode(t, entity.Board{entity.PlayerX, "", "", "", "", "", "", "", entity.PlayerO})

		// When: sampling
		move, err := model.Predict(ctx, encoded.Tensor, encoded.Mask, false)

		// Then: the last legal cell is drawn
		require.NoError(t, err)
		assert.Equal(t, 7, move)
	})

	t.Run("Concurrent predictions agree", func(t *testing.T) {
		weights := zeroWeights()
		weights[8][4] = 2
		model, err := Load(writeArtifact(t, newNetwork(t, ObservationSize, ActionSpace, weights), nil), nil, WithWorkers(3))
		require.NoError(t, err)

		encoded := encode(t, entity.Board{"", "", "", "", entity.PlayerX, "", "", "", ""})

		var wg sync.WaitGroup
		moves := make([]int, 64)
		errs := make([]error, 64)
		for i := range moves {
			wg.Add(1)
			go func() {
				defer wg.Done()
				moves[i], errs[i] = model.Predict(ctx, encoded.Tensor, encoded.Mask, true)
			}()
		}
		wg.Wait()

		for i := range moves {
			require.NoError(t, errs[i])
			assert.Equal(t, 8, moves[i])
		}
	})

	t.Run("Canceled context while every replica is busy", func(t *testing.T) {
		model, err := Load(writeArtifact(t, NewUniform(), nil), nil, WithWorkers(1))
		require.NoError(t, err)

		busy := <-model.replicas
		defer func() { model.replicas <- busy }()

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		encoded := encode(t, entity.Board{"", "", "", "", "", "", "", "", ""})
		_, err = model.Predict(canceled, encoded.Tensor, encoded.Mask, true)

		require.ErrorIs(t, err, context.Canceled)
	})
}
