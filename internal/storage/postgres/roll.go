package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/dicenotation/internal/dice"
)

// ErrRollNotFound is returned when a roll lookup yields no results.
var ErrRollNotFound = errors.New("roll not found")

// RollItem is the stored form of one dice.TermResult.
type RollItem struct {
	Value  int    `json:"value"`
	Scalar int    `json:"scalar"`
	Kind   string `json:"kind"`
}

// RollRecord is one persisted roll.
type RollRecord struct {
	ID         uuid.UUID
	Input      string
	Expression string
	Total      int
	Items      []RollItem
	Source     string
	Session    string
	CreatedAt  time.Time
}

// RecordInput carries what Record stores for one roll.
type RecordInput struct {
	// Input is the notation as the user typed it.
	Input string
	// Result is the evaluated roll; its expression and items are stored.
	Result dice.Result
	// Session labels the caller, e.g. a remote address. May be empty.
	Session string
}

// ItemsFromResult converts a Result's items to their stored form.
func ItemsFromResult(res dice.Result) []RollItem {
	items := res.Items()
	out := make([]RollItem, len(items))
	for i, it := range items {
		out[i] = RollItem{Value: it.Value, Scalar: it.Scalar, Kind: it.Kind}
	}
	return out
}

// RollRepository provides roll history persistence operations.
type RollRepository struct {
	db *pgxpool.Pool
}

// NewRollRepository creates a RollRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewRollRepository(db *pgxpool.Pool) *RollRepository {
	return &RollRepository{db: db}
}

const rollColumns = `id, input, expression, total, items, source, session, created_at`

// Record inserts one roll under a fresh UUID.
//
// Postcondition: Returns the stored RollRecord with ID and CreatedAt set.
func (r *RollRepository) Record(ctx context.Context, in RecordInput) (RollRecord, error) {
	items := ItemsFromResult(in.Result)
	rec, err := scanRoll(r.db.QueryRow(ctx,
		`INSERT INTO rolls (id, input, expression, total, items, source, session)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+rollColumns,
		uuid.New(), in.Input, in.Result.Expression(), in.Result.Total(),
		items, dice.SourceName(in.Result.Source()), in.Session,
	))
	if err != nil {
		return RollRecord{}, fmt.Errorf("inserting roll: %w", err)
	}
	return rec, nil
}

// Get retrieves a roll by ID.
//
// Postcondition: Returns the RollRecord or ErrRollNotFound.
func (r *RollRepository) Get(ctx context.Context, id uuid.UUID) (RollRecord, error) {
	rec, err := scanRoll(r.db.QueryRow(ctx,
		`SELECT `+rollColumns+` FROM rolls WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RollRecord{}, ErrRollNotFound
		}
		return RollRecord{}, fmt.Errorf("querying roll: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit rolls, newest first.
//
// Precondition: limit must be >= 1.
func (r *RollRepository) Recent(ctx context.Context, limit int) ([]RollRecord, error) {
	if limit < 1 {
		return nil, fmt.Errorf("recent rolls: limit must be >= 1, got %d", limit)
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+rollColumns+` FROM rolls ORDER BY created_at DESC, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent rolls: %w", err)
	}
	defer rows.Close()

	var out []RollRecord
	for rows.Next() {
		rec, err := scanRoll(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning roll: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rolls: %w", err)
	}
	return out, nil
}

// CountByExpression returns how many stored rolls share the canonical expression.
func (r *RollRepository) CountByExpression(ctx context.Context, expression string) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM rolls WHERE expression = $1`, expression,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rolls: %w", err)
	}
	return n, nil
}

func scanRoll(row pgx.Row) (RollRecord, error) {
	var rec RollRecord
	err := row.Scan(&rec.ID, &rec.Input, &rec.Expression, &rec.Total,
		&rec.Items, &rec.Source, &rec.Session, &rec.CreatedAt)
	return rec, err
}
