package dice

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Roller rolls expressions against a shared source and logs every roll at
// debug level with expression, items and total.
//
// Roller is safe for concurrent use: draws from its source are serialized.
type Roller struct {
	src    *LockedSource
	logger *zap.Logger
}

// NewLoggedRoller creates a Roller that rolls with src and logs each roll to logger.
//
// Precondition: src and logger must be non-nil.
func NewLoggedRoller(src Source, logger *zap.Logger) *Roller {
	locked, ok := src.(*LockedSource)
	if !ok {
		locked = NewLockedSource(src)
	}
	return &Roller{src: locked, logger: logger}
}

// Source returns the roller's serialized source.
func (r *Roller) Source() Source {
	return r.src
}

// Roll evaluates expr and logs the result at debug level.
//
// Postcondition: result logged; returns Result or expr's builder error.
func (r *Roller) Roll(expr *Expression) (Result, error) {
	res, err := expr.Roll(r.src)
	if err != nil {
		return Result{}, err
	}
	r.logger.Debug("dice roll",
		zap.String("expression", res.Expression()),
		zap.Array("items", itemsMarshaler(res.items)),
		zap.Int("total", res.Total()),
		zap.String("source", SourceName(r.src)),
	)
	return res, nil
}

// RollExpr parses text and rolls it, logging the result.
//
// Postcondition: Returns a Result or a parse error.
func (r *Roller) RollExpr(text string) (Result, error) {
	expr, err := Parse(text)
	if err != nil {
		r.logger.Debug("dice parse failed", zap.String("input", text), zap.Error(err))
		return Result{}, err
	}
	return r.Roll(expr)
}

// Bounds parses text and returns its lowest and highest possible totals
// without drawing from the source.
//
// Postcondition: lo <= hi, or a parse error.
func (r *Roller) Bounds(text string) (lo, hi int, err error) {
	expr, err := Parse(text)
	if err != nil {
		r.logger.Debug("dice parse failed", zap.String("input", text), zap.Error(err))
		return 0, 0, err
	}
	lo, hi, err = expr.Bounds()
	if err != nil {
		return 0, 0, err
	}
	r.logger.Debug("dice bounds",
		zap.String("expression", expr.String()),
		zap.Int("min", lo),
		zap.Int("max", hi),
	)
	return lo, hi, nil
}

type itemsMarshaler []TermResult

func (items itemsMarshaler) MarshalLogArray(enc zapcore.ArrayEncoder) error {
	for _, it := range items {
		if err := enc.AppendObject(it); err != nil {
			return err
		}
	}
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (t TermResult) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", t.Kind)
	enc.AddInt("value", t.Value)
	if t.Scalar != 1 {
		enc.AddInt("scalar", t.Scalar)
	}
	return nil
}
