package risk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Muneeb-Masood/EC-ML/internal/pagination"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore persists verdicts in PostgreSQL. The schema lives in
// migrations/ and is applied by cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed verdict store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *AuditRecord) error {
	query, args, err := psql.Insert("verdicts").
		Columns(verdictColumns...).
		Values(rec.ID, rec.TransactionID, rec.UserID, rec.TransactionType, nullScore(rec.MLScore),
			rec.Block, string(rec.Reasons), string(rec.Response), string(rec.Source), rec.EvaluatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verdict insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

var verdictColumns = []string{
	"id", "transaction_id", "user_id", "transaction_type", "ml_fraud_score",
	"block", "reasons", "response", "source", "evaluated_at",
}

func (s *PostgresStore) GetByTransaction(ctx context.Context, txID string) (*AuditRecord, error) {
	query, args, err := psql.Select(verdictColumns...).
		From("verdicts").
		Where(sq.Eq{"transaction_id": txID}).
		OrderBy("evaluated_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build verdict query: %w", err)
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verdict: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, after *pagination.Cursor, limit int) ([]*AuditRecord, error) {
	builder := psql.Select(verdictColumns...).
		From("verdicts").
		Where(sq.Eq{"user_id": userID})
	if after != nil {
		builder = builder.Where(sq.Or{
			sq.Lt{"evaluated_at": after.At},
			sq.And{sq.Eq{"evaluated_at": after.At}, sq.Lt{"id": after.ID}},
		})
	}
	query, args, err := builder.
		OrderBy("evaluated_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build verdict list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer rows.Close()

	var out []*AuditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*AuditRecord, error) {
	var (
		rec               AuditRecord
		score             sql.NullFloat64
		reasons, response []byte // *[]byte scans copy the driver buffer
		source            string
	)
	err := row.Scan(
		&rec.ID, &rec.TransactionID, &rec.UserID, &rec.TransactionType, &score,
		&rec.Block, &reasons, &response, &source, &rec.EvaluatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Reasons = reasons
	rec.Response = response
	rec.Source = Source(source)
	if score.Valid {
		rec.MLScore = &score.Float64
	}
	rec.EvaluatedAt = rec.EvaluatedAt.UTC()
	return &rec, nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullScore(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}
