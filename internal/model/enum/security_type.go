package enum

// SecurityType stock, futures, option, fx, crypto
type SecurityType uint8

const (
	_security_type_beg SecurityType = iota
	SecurityTypeStock
	SecurityTypeFutures
	SecurityTypeOption
	SecurityTypeFx
	SecurityTypeCrypto
	_security_type_end
)

func (t SecurityType) IsAvailable() bool {
	return t > _security_type_beg && t < _security_type_end
}

func (t SecurityType) String() string {
	switch t {
	case SecurityTypeStock:
		return "stock"
	case SecurityTypeFutures:
		return "futures"
	case SecurityTypeOption:
		return "option"
	case SecurityTypeFx:
		return "fx"
	case SecurityTypeCrypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// OptionRight call, put
type OptionRight uint8

const (
	_option_right_beg OptionRight = iota
	OptionRightCall
	OptionRightPut
	_option_right_end
)

func (r OptionRight) IsAvailable() bool {
	return r > _option_right_beg && r < _option_right_end
}

func (r OptionRight) String() string {
	switch r {
	case OptionRightCall:
		return "call"
	case OptionRightPut:
		return "put"
	default:
		return "unknown"
	}
}
