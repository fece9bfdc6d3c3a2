package apperror

import "errors"

var (
	ErrInvalidBoardLength = errors.New("board must have exactly 9 cells")
	ErrUnknownMarker      = errors.New("unknown cell marker")
	ErrNoLegalMoves       = errors.New("no legal moves")
	ErrPolicyUnavailable  = errors.New("policy model is not loaded")
)
