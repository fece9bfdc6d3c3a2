package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/tictactoe-policy/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
)

const maxBodyBytes = 4 << 10

type moveService interface {
	Decide(ctx context.Context, board entity.Board) (int, error)
}

type PredictHandler interface {
	Predict(w http.ResponseWriter, r *http.Request)
}

type predictHandler struct {
	logger *slog.Logger
	moves  moveService
}

type predictRequest struct {
	Board *entity.Board `json:"board"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewPredictHandler(logger *slog.Logger, moves moveService) PredictHandler {
	return &predictHandler{
		logger: logger.With("component", "predict-handler"),
		moves:  moves,
	}
}

func (that *predictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Predict")

	var req predictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		that.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.Board == nil {
		that.writeError(w, http.StatusBadRequest, "board is required")
		return
	}

	move, err := that.moves.Decide(r.Context(), *req.Board)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			log.Error("failed to decide move", "error", err)
			that.writeError(w, status, http.StatusText(status))
			return
		}

		that.writeError(w, status, err.Error())
		return
	}

	that.writeJSON(w, http.StatusOK, entity.Move{Cell: move})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrInvalidBoardLength), errors.Is(err, apperror.ErrUnknownMarker):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNoLegalMoves):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperror.ErrPolicyUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (that *predictHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}

func (that *predictHandler) writeError(w http.ResponseWriter, status int, msg string) {
	that.logger.Debug("request rejected", "status", status, "reason", msg)
	that.writeJSON(w, status, errorResponse{Error: msg})
}
