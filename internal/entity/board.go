package entity

import "fmt"

const (
	PlayerX   = "X"
	PlayerO   = "O"
	EmptyCell = ""
)

const (
	BoardSide = 3
	BoardSize = BoardSide * BoardSide
)

// Board - cells as they arrive in the request body, row-major.
// Values are kept as decoded JSON so that unexpected markers can be handled by the encoder.
type Board []any

// Mark returns the cell marker, or EmptyCell when the cell is not a string.
func (that Board) Mark(i int) string {
	if i < 0 || i >= len(that) {
		return EmptyCell
	}

	mark, _ := that[i].(string)
	return mark
}

// IsKnown reports whether the cell holds one of the recognized markers or nothing at all.
func (that Board) IsKnown(i int) bool {
	if that[i] == nil {
		return true
	}

	mark, ok := that[i].(string)
	if !ok {
		return false
	}

	switch mark {
	case PlayerX, PlayerO, EmptyCell:
		return true
	default:
		return false
	}
}

// String renders the board as three rows, empty cells as '.'.
func (that Board) String() string {
	out := make([]byte, 0, BoardSize+BoardSide)
	for i := range that {
		switch that.Mark(i) {
		case PlayerX:
			out = append(out, 'X')
		case PlayerO:
			out = append(out, 'O')
		default:
			out = append(out, '.')
		}

		if (i+1)%BoardSide == 0 && i != len(that)-1 {
			out = append(out, '/')
		}
	}

	return string(out)
}

// Mask - legal actions, aligned with the flattened board.
type Mask [BoardSize]bool

func (that Mask) Legal() []int {
	legal := make([]int, 0, BoardSize)
	for i, ok := range that {
		if ok {
			legal = append(legal, i)
		}
	}

	return legal
}

func (that Mask) Count() int {
	count := 0
	for _, ok := range that {
		if ok {
			count++
		}
	}

	return count
}

// Position maps a flat index to its row and column.
func Position(i int) (row, col int) {
	return i / BoardSide, i % BoardSide
}

// ValidCell reports whether the index addresses a board cell.
func ValidCell(i int) bool {
	return i >= 0 && i < BoardSize
}

// Move - response payload for a decided action.
type Move struct {
	Cell int `json:"move"`
}

func (that Move) String() string {
	row, col := Position(that.Cell)
	return fmt.Sprintf("cell %d (row %d, col %d)", that.Cell, row, col)
}
