package model

import (
	"strconv"
	"strings"

	"github.com/yanun0323/errors"
)

// Price is a scaled integer. The scale is defined by configuration.
type Price int64

func (p Price) AppendString(priceScale int, buf []byte) []byte {
	return appendScaledInt(buf, int64(p), priceScale)
}

// Quantity is a scaled integer. The scale is defined by configuration.
type Quantity int64

func (q Quantity) AppendString(quantityScale int, buf []byte) []byte {
	return appendScaledInt(buf, int64(q), quantityScale)
}

// Notional is a scaled integer. The scale is defined by configuration.
type Notional int64

func (n Notional) AppendString(notionalScale int, buf []byte) []byte {
	return appendScaledInt(buf, int64(n), notionalScale)
}

// ScaleSpec defines scaling for the numeric fields of one instrument.
type ScaleSpec struct {
	PriceScale    int `json:"priceScale"`
	QuantityScale int `json:"quantityScale"`
}

func (s ScaleSpec) Validate() error {
	if s.PriceScale < 0 || s.QuantityScale < 0 {
		return errors.New("scale must be >= 0")
	}
	return nil
}

// ParsePrice converts a decimal string like "187.25" into a scaled integer.
func ParsePrice(s string, scale int) (Price, error) {
	v, err := parseScaled(s, scale)
	return Price(v), err
}

// ParseQuantity converts a decimal string into a scaled integer.
func ParseQuantity(s string, scale int) (Quantity, error) {
	v, err := parseScaled(s, scale)
	return Quantity(v), err
}

func parseScaled(s string, scale int) (int64, error) {
	if scale < 0 {
		return 0, errors.New("scale must be >= 0")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty decimal string")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart, fracPart, _ := strings.Cut(s, ".")
	if len(fracPart) > scale {
		return 0, errors.Errorf("value %q has more than %d decimal places", s, scale)
	}
	digits := intPart + fracPart + strings.Repeat("0", scale-len(fracPart))
	v, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse decimal string")
	}
	if neg {
		v = -v
	}
	return v, nil
}

func appendScaledInt(buf []byte, value int64, scale int) []byte {
	if scale <= 0 {
		return strconv.AppendInt(buf, value, 10)
	}

	neg := value < 0
	u := uint64(value)
	if neg {
		u = uint64(^value) + 1
	}

	var tmp [32]byte
	digits := strconv.AppendUint(tmp[:0], u, 10)

	if neg {
		buf = append(buf, '-')
	}

	if len(digits) <= scale {
		buf = append(buf, '0', '.')
		for i := 0; i < scale-len(digits); i++ {
			buf = append(buf, '0')
		}
		buf = append(buf, digits...)
		return buf
	}

	idx := len(digits) - scale
	buf = append(buf, digits[:idx]...)
	buf = append(buf, '.')
	buf = append(buf, digits[idx:]...)
	return buf
}
