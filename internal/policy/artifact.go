package policy

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/patrikeh/go-deep"
)

// Artifact - on-disk policy: a go-deep network dump plus the metadata it was exported with.
type Artifact struct {
	Name            string          `json:"name"`
	Version         int             `json:"version"`
	Hyperparameters map[string]any  `json:"hyperparameters,omitempty"`
	Network         json.RawMessage `json:"network"`
}

// Save writes the network and its metadata as an artifact Load understands.
func Save(w io.Writer, net *deep.Neural, name string, version int, hyperparameters map[string]any) error {
	network, err := net.Marshal()
	if err != nil {
		return fmt.Errorf("could not marshal network: %w", err)
	}

	artifact := Artifact{
		Name:            name,
		Version:         version,
		Hyperparameters: hyperparameters,
		Network:         network,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err = encoder.Encode(artifact); err != nil {
		return fmt.Errorf("could not write artifact: %w", err)
	}

	return nil
}

// NewUniform - network with zero weights: every action scores the same,
// so deterministic selection falls back to the lowest legal cell.
func NewUniform() *deep.Neural {
	net := deep.NewNeural(&deep.Config{
		Inputs:     ActionSpace,
		Layout:     []int{ActionSpace},
		Activation: deep.ActivationLinear,
		Mode:       deep.ModeMultiClass,
		Weight:     deep.NewUniform(0, 0),
		Bias:       false,
	})

	return net
}

func decodeNetwork(raw json.RawMessage) (net *deep.Neural, err error) {
	defer func() {
		if r := recover(); r != nil {
			net = nil
			err = fmt.Errorf("%w: could not build network: %v", ErrCorruptModel, r)
		}
	}()

	var dump deep.Dump
	if err = json.Unmarshal(raw, &dump); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptModel, err)
	}

	if dump.Config == nil || len(dump.Config.Layout) == 0 {
		return nil, fmt.Errorf("%w: network config is missing", ErrCorruptModel)
	}

	// initializers are not serialized; weights are overwritten below anyway
	if dump.Config.Weight == nil {
		dump.Config.Weight = deep.NewUniform(0, 0)
	}

	net = deep.NewNeural(dump.Config)
	if err = checkShape(net.Weights(), dump.Weights); err != nil {
		return nil, err
	}

	net.ApplyWeights(dump.Weights)

	return net, nil
}

// checkShape - go-deep applies weights without bounds checks.
func checkShape(want, got [][][]float64) error {
	if len(want) != len(got) {
		return fmt.Errorf("%w: expected %d layers of weights, got %d", ErrCorruptModel, len(want), len(got))
	}

	for i := range want {
		if len(want[i]) != len(got[i]) {
			return fmt.Errorf("%w: layer %d: expected %d neurons, got %d", ErrCorruptModel, i, len(want[i]), len(got[i]))
		}

		for j := range want[i] {
			if len(want[i][j]) != len(got[i][j]) {
				return fmt.Errorf("%w: layer %d neuron %d: expected %d weights, got %d",
					ErrCorruptModel, i, j, len(want[i][j]), len(got[i][j]))
			}
		}
	}

	return nil
}

func validateNetwork(net *deep.Neural) error {
	if net.Config == nil || len(net.Layers) == 0 {
		return fmt.Errorf("%w: network has no layers", ErrIncompatibleModel)
	}

	if net.Config.Inputs != ObservationSize {
		return fmt.Errorf("%w: expected %d inputs, got %d", ErrIncompatibleModel, ObservationSize, net.Config.Inputs)
	}

	outputs := len(net.Layers[len(net.Layers)-1].Neurons)
	if outputs != ActionSpace {
		return fmt.Errorf("%w: expected %d outputs, got %d", ErrIncompatibleModel, ActionSpace, outputs)
	}

	return nil
}
