package domain

import (
	"errors"
	"unicode/utf8"
)

const (
	// MaxReasonLength bounds the free-text reason stored on an entry.
	MaxReasonLength = 500
	// MaxIdempotencyKeyLength bounds a client request id.
	MaxIdempotencyKeyLength = 100
)

type resolveRule struct {
	bucket         Bucket
	sign           int64
	needsDirection bool
}

// resolveRules is the only place a sign or bucket is derived from a type.
// ADJUST carries no fixed sign: its direction decides.
var resolveRules = map[EntryType]resolveRule{
	TypeIn:        {bucket: BucketOnHand, sign: +1},
	TypeOut:       {bucket: BucketOnHand, sign: -1},
	TypeReserve:   {bucket: BucketReserved, sign: +1},
	TypeUnreserve: {bucket: BucketReserved, sign: -1},
	TypeAdjust:    {bucket: BucketOnHand, needsDirection: true},
}

var directionSigns = map[Direction]int64{
	DirectionIncrease: +1,
	DirectionDecrease: -1,
}

// Resolved is an intent after sign and bucket resolution, ready to become an entry.
type Resolved struct {
	Type           EntryType
	Bucket         Bucket
	Delta          int64
	Reason         string
	IdempotencyKey string
}

// Resolve maps an intent onto a signed delta and target bucket.
func Resolve(in Intent) (Resolved, error) {
	rule, ok := resolveRules[in.Type]
	if !ok {
		return Resolved{}, Validation("unknown transaction type %q", in.Type)
	}
	if in.Quantity <= 0 {
		return Resolved{}, Validation("qty must be a positive integer, got %d", in.Quantity)
	}
	if utf8.RuneCountInString(in.Reason) > MaxReasonLength {
		return Resolved{}, Validation("reason exceeds %d characters", MaxReasonLength)
	}
	if utf8.RuneCountInString(in.IdempotencyKey) > MaxIdempotencyKeyLength {
		return Resolved{}, Validation("request_id exceeds %d characters", MaxIdempotencyKeyLength)
	}

	sign := rule.sign
	if rule.needsDirection {
		if in.Direction == "" {
			return Resolved{}, Validation("%s requires direction (INCREASE or DECREASE)", in.Type)
		}
		s, ok := directionSigns[in.Direction]
		if !ok {
			return Resolved{}, Validation("unknown direction %q", in.Direction)
		}
		sign = s
	} else if in.Direction != "" {
		return Resolved{}, Validation("%s does not accept direction", in.Type)
	}

	return Resolved{
		Type:           in.Type,
		Bucket:         rule.bucket,
		Delta:          sign * in.Quantity,
		Reason:         in.Reason,
		IdempotencyKey: in.IdempotencyKey,
	}, nil
}

// ResolveAll resolves a batch; the first invalid intent rejects the whole batch.
func ResolveAll(intents []Intent) ([]Resolved, error) {
	out := make([]Resolved, 0, len(intents))
	for i, in := range intents {
		r, err := Resolve(in)
		if err != nil {
			var e *Error
			if errors.As(err, &e) {
				return nil, Validation("transactions[%d]: %s", i, e.Message)
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ApplyNet folds the resolved deltas onto current and checks the non-negativity
// invariants on the net result only. Intermediate states inside the batch are
// never inspected.
func ApplyNet(current StockLevel, resolved []Resolved) (StockLevel, error) {
	var dOnHand, dReserved int64
	for _, r := range resolved {
		switch r.Bucket {
		case BucketOnHand:
			dOnHand += r.Delta
		case BucketReserved:
			dReserved += r.Delta
		}
	}

	next := NewStockLevel(current.OnHand+dOnHand, current.Reserved+dReserved)
	switch {
	case next.OnHand < 0:
		return StockLevel{}, newError(KindInsufficientOnHand,
			"insufficient on-hand: current=%d, after=%d", current.OnHand, next.OnHand)
	case next.Reserved < 0:
		return StockLevel{}, newError(KindInsufficientReserved,
			"insufficient reserved: current=%d, after=%d", current.Reserved, next.Reserved)
	case next.Available < 0:
		return StockLevel{}, newError(KindInsufficientAvailable,
			"insufficient available: current=%d, after=%d", current.Available, next.Available)
	}
	return next, nil
}
