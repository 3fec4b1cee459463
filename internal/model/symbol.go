package model

import (
	"strings"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/model/enum"
)

var (
	ErrFieldNotApplicable = errors.New("symbol field not applicable to security type")
	ErrInvalidSymbol      = errors.New("invalid symbol")
)

// Symbol identifies one tradable instrument. It is an immutable value;
// construct through the typed constructors so type-specific fields are
// populated consistently.
type Symbol struct {
	securityType    enum.SecurityType
	code            string
	exchange        string
	primaryExchange string
	currency        string

	// option fields
	strike Price
	right  enum.OptionRight

	// option and futures field
	expiry time.Time
}

// NewStock creates a stock symbol.
func NewStock(code, exchange, primaryExchange, currency string) (Symbol, error) {
	return newSymbol(enum.SecurityTypeStock, code, exchange, primaryExchange, currency)
}

// NewFx creates a currency-pair symbol.
func NewFx(code, exchange, currency string) (Symbol, error) {
	return newSymbol(enum.SecurityTypeFx, code, exchange, exchange, currency)
}

// NewCrypto creates a crypto-pair symbol.
func NewCrypto(code, exchange, currency string) (Symbol, error) {
	return newSymbol(enum.SecurityTypeCrypto, code, exchange, exchange, currency)
}

// NewFutures creates a futures symbol with its expiration date.
func NewFutures(code, exchange, currency string, expiry time.Time) (Symbol, error) {
	s, err := newSymbol(enum.SecurityTypeFutures, code, exchange, exchange, currency)
	if err != nil {
		return Symbol{}, err
	}
	if expiry.IsZero() {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "futures symbol requires expiry")
	}
	s.expiry = expiry
	return s, nil
}

// NewOption creates an option symbol with strike, right and expiration.
func NewOption(code, exchange, currency string, strike Price, right enum.OptionRight, expiry time.Time) (Symbol, error) {
	s, err := newSymbol(enum.SecurityTypeOption, code, exchange, exchange, currency)
	if err != nil {
		return Symbol{}, err
	}
	if strike <= 0 {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "option symbol requires positive strike")
	}
	if !right.IsAvailable() {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "option symbol requires right")
	}
	if expiry.IsZero() {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "option symbol requires expiry")
	}
	s.strike = strike
	s.right = right
	s.expiry = expiry
	return s, nil
}

func newSymbol(t enum.SecurityType, code, exchange, primaryExchange, currency string) (Symbol, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "empty code")
	}
	if exchange == "" {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "empty exchange")
	}
	if currency == "" {
		return Symbol{}, errors.Wrap(ErrInvalidSymbol, "empty currency")
	}
	return Symbol{
		securityType:    t,
		code:            code,
		exchange:        exchange,
		primaryExchange: primaryExchange,
		currency:        currency,
	}, nil
}

func (s Symbol) SecurityType() enum.SecurityType { return s.securityType }
func (s Symbol) Code() string                    { return s.code }
func (s Symbol) Exchange() string                { return s.exchange }
func (s Symbol) PrimaryExchange() string         { return s.primaryExchange }
func (s Symbol) Currency() string                { return s.currency }

// Strike returns the option strike price. Requesting it for a non-option
// security is a caller error, never a zero default.
func (s Symbol) Strike() (Price, error) {
	if s.securityType != enum.SecurityTypeOption {
		return 0, errors.Wrap(ErrFieldNotApplicable, "strike")
	}
	return s.strike, nil
}

// Right returns the option right.
func (s Symbol) Right() (enum.OptionRight, error) {
	if s.securityType != enum.SecurityTypeOption {
		return 0, errors.Wrap(ErrFieldNotApplicable, "right")
	}
	return s.right, nil
}

// Expiry returns the expiration date of a futures or option symbol.
func (s Symbol) Expiry() (time.Time, error) {
	switch s.securityType {
	case enum.SecurityTypeFutures, enum.SecurityTypeOption:
		return s.expiry, nil
	default:
		return time.Time{}, errors.Wrap(ErrFieldNotApplicable, "expiry")
	}
}

// Key returns a stable identity string usable as a map key. Equality over
// all populated fields.
func (s Symbol) Key() string {
	var b strings.Builder
	b.WriteString(s.code)
	b.WriteByte('/')
	b.WriteString(s.exchange)
	b.WriteByte('/')
	b.WriteString(s.currency)
	b.WriteByte(':')
	b.WriteString(s.securityType.String())
	if !s.expiry.IsZero() {
		b.WriteByte(':')
		b.WriteString(s.expiry.UTC().Format("20060102"))
	}
	if s.securityType == enum.SecurityTypeOption {
		b.WriteByte(':')
		b.WriteString(s.right.String())
		b.WriteByte(':')
		b.Write(s.strike.AppendString(0, nil))
	}
	return b.String()
}

func (s Symbol) Equal(other Symbol) bool {
	return s == other
}

func (s Symbol) String() string {
	return s.Key()
}
