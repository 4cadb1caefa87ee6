package rollservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/cory-johannsen/dicenotation/internal/dice"
	"github.com/cory-johannsen/dicenotation/internal/preset"
	"github.com/cory-johannsen/dicenotation/internal/storage/postgres"
)

// Recorder persists a roll. *postgres.RollRepository satisfies it.
type Recorder interface {
	Record(ctx context.Context, in postgres.RecordInput) (postgres.RollRecord, error)
}

// Server implements RollServiceServer on a shared Roller.
type Server struct {
	roller  *dice.Roller
	presets *preset.Library
	history Recorder
	maxDice int
	logger  *zap.Logger
}

// NewServer creates the roll service. presets and history may be nil.
//
// Precondition: roller and logger must be non-nil; maxDice >= 1.
// Postcondition: Returns a Server ready for RegisterRollServiceServer.
func NewServer(roller *dice.Roller, presets *preset.Library, history Recorder, maxDice int, logger *zap.Logger) *Server {
	if roller == nil {
		panic("rollservice: NewServer precondition violated: roller must be non-nil")
	}
	if logger == nil {
		panic("rollservice: NewServer precondition violated: logger must be non-nil")
	}
	if maxDice < 1 {
		panic(fmt.Sprintf("rollservice: NewServer precondition violated: maxDice must be >= 1, got %d", maxDice))
	}
	return &Server{
		roller:  roller,
		presets: presets,
		history: history,
		maxDice: maxDice,
		logger:  logger,
	}
}

// Roll implements RollServiceServer.
func (s *Server) Roll(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	expr, err := s.resolve(in.GetValue())
	if err != nil {
		return nil, err
	}
	res, err := s.roller.Roll(expr)
	if err != nil {
		return nil, toStatus(err)
	}

	items := make([]any, 0, res.Len())
	for _, it := range res.Items() {
		items = append(items, map[string]any{
			"value":  it.Value,
			"scalar": it.Scalar,
			"kind":   it.Kind,
		})
	}
	fields := map[string]any{
		"expression": res.Expression(),
		"total":      res.Total(),
		"items":      items,
	}

	if s.history != nil {
		rec, err := s.history.Record(ctx, postgres.RecordInput{
			Input:   in.GetValue(),
			Result:  res,
			Session: sessionLabel(ctx),
		})
		if err != nil {
			s.logger.Warn("recording roll", zap.String("expression", res.Expression()), zap.Error(err))
		} else {
			fields["id"] = rec.ID.String()
		}
	}

	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding result: %v", err)
	}
	return out, nil
}

// Bounds implements RollServiceServer.
func (s *Server) Bounds(_ context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	expr, err := s.resolve(in.GetValue())
	if err != nil {
		return nil, err
	}
	lo, hi, err := expr.Bounds()
	if err != nil {
		return nil, toStatus(err)
	}
	out, err := structpb.NewStruct(map[string]any{
		"expression": expr.String(),
		"min":        lo,
		"max":        hi,
	})
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encoding bounds: %v", err)
	}
	return out, nil
}

// Parse implements RollServiceServer.
func (s *Server) Parse(_ context.Context, in *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
	expr, err := s.resolve(in.GetValue())
	if err != nil {
		return nil, err
	}
	return wrapperspb.String(expr.String()), nil
}

// resolve parses text or looks up an "@name" preset, then applies the dice
// cap. Errors are gRPC statuses.
func (s *Server) resolve(text string) (*dice.Expression, error) {
	text = strings.TrimSpace(text)
	var (
		expr *dice.Expression
		err  error
	)
	if name, ok := strings.CutPrefix(text, "@"); ok {
		expr, err = s.presets.Expression(strings.TrimSpace(name))
	} else {
		expr, err = dice.Parse(text)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	if err := expr.CheckDiceLimit(s.maxDice); err != nil {
		return nil, toStatus(err)
	}
	return expr, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, preset.ErrUnknownPreset):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, dice.ErrTooManyDice):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, dice.ErrInvalidSyntax),
		errors.Is(err, dice.ErrImpossibleDie),
		errors.Is(err, dice.ErrInvalidMultiplicity),
		errors.Is(err, dice.ErrInvalidChoose):
		return status.Error(codes.InvalidArgument, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func sessionLabel(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return "grpc:" + p.Addr.String()
	}
	return "grpc"
}

// LoggingInterceptor logs every unary call with its method, status code and
// duration.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil && status.Code(err) == codes.Internal {
			logger.Error("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc", fields...)
		}
		return resp, err
	}
}
