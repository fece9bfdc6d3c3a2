package policy

import (
	"math"

	"github.com/rocketscienceinc/tictactoe-policy/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
)

// argmax - best legal score, ties go to the lowest index.
func argmax(scores []float64, mask entity.Mask) (int, error) {
	best := -1
	bestScore := math.Inf(-1)

	for i, legal := range mask {
		if !legal || i >= len(scores) {
			continue
		}

		score := scores[i]
		if math.IsNaN(score) {
			score = math.Inf(-1)
		}

		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}

	if best == -1 {
		return 0, apperror.ErrNoLegalMoves
	}

	return best, nil
}

// sample draws a legal action with probability proportional to its score.
// u must be in [0, 1). Falls back to a uniform draw when no legal action has positive weight.
func sample(scores []float64, mask entity.Mask, u float64) (int, error) {
	legal := mask.Legal()
	if len(legal) == 0 {
		return 0, apperror.ErrNoLegalMoves
	}

	weights := make([]float64, len(legal))
	total := 0.0
	for i, cell := range legal {
		if cell < len(scores) && scores[cell] > 0 && !math.IsInf(scores[cell], 1) {
			weights[i] = scores[cell]
			total += scores[cell]
		}
	}

	if total == 0 {
		idx := int(u * float64(len(legal)))
		return legal[min(idx, len(legal)-1)], nil
	}

	target := u * total
	for i, weight := range weights {
		if target < weight {
			return legal[i], nil
		}
		target -= weight
	}

	// rounding can leave target just past the last positive weight
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return legal[i], nil
		}
	}

	return legal[len(legal)-1], nil
}
