package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorgonia.org/tensor"

	"github.com/rocketscienceinc/tictactoe-policy/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
	"github.com/rocketscienceinc/tictactoe-policy/internal/repository"
	"github.com/rocketscienceinc/tictactoe-policy/internal/tictactoe"
)

var ErrIllegalDecision = errors.New("policy chose an illegal cell")

type MoveService interface {
	Decide(ctx context.Context, board entity.Board) (int, error)
}

type boardEncoder interface {
	Encode(board entity.Board) (*tictactoe.Encoded, error)
}

type policyModel interface {
	Predict(ctx context.Context, obs *tensor.Dense, mask entity.Mask, deterministic bool) (int, error)
	Fingerprint() string
}

type decisionCache interface {
	Get(ctx context.Context, fingerprint, boardKey string) (int, error)
	Set(ctx context.Context, fingerprint, boardKey string, move int) error
}

type moveService struct {
	logger *slog.Logger

	encoder boardEncoder
	policy  policyModel
	cache   decisionCache
}

// NewMoveService - cache may be nil.
func NewMoveService(logger *slog.Logger, encoder boardEncoder, policy policyModel, cache decisionCache) MoveService {
	return &moveService{
		logger:  logger.With("component", "move-service"),
		encoder: encoder,
		policy:  policy,
		cache:   cache,
	}
}

func (that *moveService) Decide(ctx context.Context, board entity.Board) (int, error) {
	log := that.logger.With("method", "Decide")

	if that.policy == nil {
		return 0, apperror.ErrPolicyUnavailable
	}

	encoded, err := that.encoder.Encode(board)
	if err != nil {
		return 0, fmt.Errorf("could not encode board: %w", err)
	}

	if encoded.Mask.Count() == 0 {
		return 0, apperror.ErrNoLegalMoves
	}

	boardKey, err := tictactoe.Key(encoded)
	if err != nil {
		return 0, fmt.Errorf("could not build board key: %w", err)
	}

	if move, ok := that.cached(ctx, boardKey, encoded.Mask); ok {
		log.Debug("cached move", "board", board.String(), "move", move)
		return move, nil
	}

	move, err := that.policy.Predict(ctx, encoded.Tensor, encoded.Mask, true)
	if err != nil {
		return 0, fmt.Errorf("policy failed to decide: %w", err)
	}

	// the policy is external; its answer is checked against the mask before it leaves the service
	if !entity.ValidCell(move) || !encoded.Mask[move] {
		return 0, fmt.Errorf("%w: cell %d for board %s", ErrIllegalDecision, move, boardKey)
	}

	that.remember(ctx, boardKey, move)

	log.Debug("move decided", "board", board.String(), "move", move)

	return move, nil
}

func (that *moveService) cached(ctx context.Context, boardKey string, mask entity.Mask) (int, bool) {
	if that.cache == nil {
		return 0, false
	}

	move, err := that.cache.Get(ctx, that.policy.Fingerprint(), boardKey)
	if errors.Is(err, repository.ErrDecisionNotFound) {
		return 0, false
	}

	if err != nil {
		that.logger.Error("could not read cached move", "board", boardKey, "error", err)
		return 0, false
	}

	if !entity.ValidCell(move) || !mask[move] {
		that.logger.Warn("ignoring cached move outside the mask", "board", boardKey, "move", move)
		return 0, false
	}

	return move, true
}

func (that *moveService) remember(ctx context.Context, boardKey string, move int) {
	if that.cache == nil {
		return
	}

	if err := that.cache.Set(ctx, that.policy.Fingerprint(), boardKey, move); err != nil {
		that.logger.Error("could not cache move", "board", boardKey, "error", err)
	}
}
