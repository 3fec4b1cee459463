package security

import (
	"github.com/yanun0323/errors"

	"main/internal/model"
)

var ErrBookOrder = errors.New("book levels not sorted best-first")

// Level is one price level of the order book.
type Level struct {
	Price model.Price
	Qty   model.Quantity
}

// Book is an immutable snapshot of the per-side level sequences, best level
// first: bids sorted by descending price, asks by ascending price.
type Book struct {
	Bids []Level
	Asks []Level
}

// validateLevels rejects a side that is not sorted best-first. Callers own
// the ordering contract; the book never reorders silently.
func validateLevels(levels []Level, descending bool) error {
	for i := range levels {
		if levels[i].Price <= 0 {
			return errors.Wrap(ErrBookOrder, "level price must be > 0")
		}
		if levels[i].Qty < 0 {
			return errors.Wrap(ErrBookOrder, "level qty must be >= 0")
		}
		if i == 0 {
			continue
		}
		if descending && levels[i].Price >= levels[i-1].Price {
			return errors.Wrap(ErrBookOrder, "bids must be strictly descending")
		}
		if !descending && levels[i].Price <= levels[i-1].Price {
			return errors.Wrap(ErrBookOrder, "asks must be strictly ascending")
		}
	}
	return nil
}

func copyLevels(levels []Level) []Level {
	if len(levels) == 0 {
		return nil
	}
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}
