package tictactoe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gorgonia.org/tensor"

	"github.com/rocketscienceinc/tictactoe-policy/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-policy/internal/entity"
)

// Cell values of the encoded tensor.
const (
	EmptyValue   = 0
	PlayerXValue = 1
	PlayerOValue = 2
)

var ErrInvalidTensorShape = errors.New("tensor must be 3x3")

// Encoded - board in the layout the policy expects.
type Encoded struct {
	Tensor *tensor.Dense
	Mask   entity.Mask
}

type Encoder struct {
	strict bool
}

// NewEncoder - strict encoders reject cells that are not X, O, empty or null.
// Permissive encoders treat such cells as empty.
func NewEncoder(strict bool) *Encoder {
	return &Encoder{strict: strict}
}

var permissive = NewEncoder(false)

// Encode converts a board with the permissive encoder.
func Encode(board entity.Board) (*Encoded, error) {
	return permissive.Encode(board)
}

func (that *Encoder) Strict() bool {
	return that.strict
}

func (that *Encoder) Encode(board entity.Board) (*Encoded, error) {
	if len(board) != entity.BoardSize {
		return nil, fmt.Errorf("%w: got %d", apperror.ErrInvalidBoardLength, len(board))
	}

	if that.strict {
		if err := validateMarkers(board); err != nil {
			return nil, fmt.Errorf("invalid board: %w", err)
		}
	}

	flat := make([]int, entity.BoardSize)
	for i := range board {
		flat[i] = cellValue(board.Mark(i))
	}

	grid := tensor.New(tensor.WithShape(entity.BoardSide, entity.BoardSide), tensor.WithBacking(flat))

	mask, err := legalMask(grid)
	if err != nil {
		return nil, err
	}

	return &Encoded{Tensor: grid, Mask: mask}, nil
}

// Flatten reads the tensor back in row-major order.
func Flatten(grid *tensor.Dense) ([]int, error) {
	shape := grid.Shape()
	if len(shape) != 2 || shape[0] != entity.BoardSide || shape[1] != entity.BoardSide {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidTensorShape, shape)
	}

	flat := make([]int, 0, entity.BoardSize)
	for row := 0; row < entity.BoardSide; row++ {
		for col := 0; col < entity.BoardSide; col++ {
			value, err := grid.At(row, col)
			if err != nil {
				return nil, fmt.Errorf("failed to read cell (%d, %d): %w", row, col, err)
			}

			cell, ok := value.(int)
			if !ok {
				return nil, fmt.Errorf("%w: unexpected dtype %T", ErrInvalidTensorShape, value)
			}

			flat = append(flat, cell)
		}
	}

	return flat, nil
}

// Key - digits of the encoded board, e.g. "120210000".
func Key(encoded *Encoded) (string, error) {
	flat, err := Flatten(encoded.Tensor)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cell := range flat {
		sb.WriteString(strconv.Itoa(cell))
	}

	return sb.String(), nil
}

func cellValue(mark string) int {
	switch mark {
	case entity.PlayerX:
		return PlayerXValue
	case entity.PlayerO:
		return PlayerOValue
	default:
		return EmptyValue
	}
}

// legalMask - a cell is legal iff it encodes to EmptyValue.
func legalMask(grid *tensor.Dense) (entity.Mask, error) {
	var mask entity.Mask

	flat, err := Flatten(grid)
	if err != nil {
		return mask, err
	}

	for i, cell := range flat {
		mask[i] = cell == EmptyValue
	}

	return mask, nil
}

func validateMarkers(board entity.Board) error {
	var errs error
	for i := range board {
		if !board.IsKnown(i) {
			errs = multierror.Append(errs, fmt.Errorf("%w at cell %d: %v", apperror.ErrUnknownMarker, i, board[i]))
		}
	}

	return errs
}
