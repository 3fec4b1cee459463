package enum

// PositionSide long, short
type PositionSide uint8

const (
	_position_side_beg PositionSide = iota
	PositionSideLong
	PositionSideShort
	_position_side_end
)

func (s PositionSide) IsAvailable() bool {
	return s > _position_side_beg && s < _position_side_end
}

func (s PositionSide) String() string {
	switch s {
	case PositionSideLong:
		return "long"
	case PositionSideShort:
		return "short"
	default:
		return "unknown"
	}
}

// OpenOrderSide returns the order side that increases the exposure.
func (s PositionSide) OpenOrderSide() OrderSide {
	if s == PositionSideShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// CloseOrderSide returns the order side that reduces the exposure.
func (s PositionSide) CloseOrderSide() OrderSide {
	return s.OpenOrderSide().Opposite()
}

// PositionState opening, open, closing, closed, error
type PositionState uint8

const (
	_position_state_beg PositionState = iota
	PositionStateNew
	PositionStateOpening
	PositionStateOpen
	PositionStateClosing
	PositionStateClosed
	PositionStateError
	_position_state_end
)

func (s PositionState) IsAvailable() bool {
	return s > _position_state_beg && s < _position_state_end
}

// IsFinal reports whether the position can no longer change.
func (s PositionState) IsFinal() bool {
	return s == PositionStateClosed || s == PositionStateError
}

func (s PositionState) String() string {
	switch s {
	case PositionStateNew:
		return "new"
	case PositionStateOpening:
		return "opening"
	case PositionStateOpen:
		return "open"
	case PositionStateClosing:
		return "closing"
	case PositionStateClosed:
		return "closed"
	case PositionStateError:
		return "error"
	default:
		return "unknown"
	}
}
