package types

import (
	"fmt"
	"strings"
)

// AssetClass tags which market a symbol trades in.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetCrypto AssetClass = "crypto"
	AssetForex  AssetClass = "forex"
	AssetOption AssetClass = "options"
)

// AssetClasses lists every class the learners keep a weight for.
var AssetClasses = []AssetClass{AssetEquity, AssetCrypto, AssetForex, AssetOption}

func ParseAssetClass(s string) (AssetClass, error) {
	switch AssetClass(strings.ToLower(strings.TrimSpace(s))) {
	case AssetEquity, "stock", "stocks":
		return AssetEquity, nil
	case AssetCrypto:
		return AssetCrypto, nil
	case AssetForex, "fx":
		return AssetForex, nil
	case AssetOption, "option":
		return AssetOption, nil
	default:
		return "", fmt.Errorf("unknown asset class %q", s)
	}
}

// Side is the signed direction of a position. There is no zero value that
// means "long"; an empty Side is invalid everywhere.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Sign is +1 for long and -1 for short. It panics on an invalid side so a
// missing side can never silently default to long.
func (s Side) Sign() float64 {
	switch s {
	case SideLong:
		return 1
	case SideShort:
		return -1
	}
	panic(fmt.Sprintf("types: sign of invalid side %q", string(s)))
}

// OrderSide is the broker action that opens a position on this side.
func (s Side) OrderSide() OrderSide {
	if s == SideShort {
		return OrderSell
	}
	return OrderBuy
}

// ExitOrderSide is the broker action that flattens a position on this side.
func (s Side) ExitOrderSide() OrderSide {
	if s == SideShort {
		return OrderBuy
	}
	return OrderSell
}

// Direction matches the Side for a candidate. The predictor uses DirectionUnknown
// when it has no model.
func (s Side) Direction() Direction {
	if s == SideShort {
		return DirectionDown
	}
	return DirectionUp
}

type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
	OrderStop   OrderType = "stop"
)

// Direction is the predictor's directional label.
type Direction string

const (
	DirectionUp      Direction = "up"
	DirectionDown    Direction = "down"
	DirectionUnknown Direction = "unknown"
)
