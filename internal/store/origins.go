package store

import (
	"context"
	"database/sql"
	"errors"

	commonerrors "agent-dispatch/internal/common/errors"
)

// OriginStore reads and updates origin rows. Creation and deletion belong to
// the zone-management collaborator; the core only fills central times and
// viability flags.
type OriginStore struct {
	db *sql.DB
}

func NewOriginStore(db *sql.DB) *OriginStore {
	return &OriginStore{db: db}
}

const originColumns = `code, city, lat, lng, minutes_to_central, viable`

func scanOrigin(row interface{ Scan(...interface{}) error }) (Origin, error) {
	var o Origin
	err := row.Scan(&o.Code, &o.City, &o.Lat, &o.Lng, &o.MinutesToCentral, &o.Viable)
	return o, err
}

// GetByCode returns the origin for a postal code, or ErrNotFound.
func (s *OriginStore) GetByCode(ctx context.Context, code string) (*Origin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+originColumns+` FROM origins WHERE code = $1`, code)

	o, err := scanOrigin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, commonerrors.NewUnknownOriginError(code)
		}
		return nil, commonerrors.NewQueryExecutionFailedError("get origin", err)
	}
	return &o, nil
}

// ListAll returns every origin.
func (s *OriginStore) ListAll(ctx context.Context) ([]Origin, error) {
	return s.list(ctx, `SELECT `+originColumns+` FROM origins ORDER BY code`)
}

// ListViable returns only origins within the central threshold.
func (s *OriginStore) ListViable(ctx context.Context) ([]Origin, error) {
	return s.list(ctx, `SELECT `+originColumns+` FROM origins WHERE viable = TRUE ORDER BY code`)
}

func (s *OriginStore) list(ctx context.Context, query string) ([]Origin, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("list origins", err)
	}
	defer rows.Close()

	var origins []Origin
	for rows.Next() {
		o, err := scanOrigin(rows)
		if err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("scan origin", err)
		}
		origins = append(origins, o)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("list origins", err)
	}
	return origins, nil
}

// SetMinutesToCentral persists a computed central driving time.
func (s *OriginStore) SetMinutesToCentral(ctx context.Context, code string, minutes int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE origins SET minutes_to_central = $1 WHERE code = $2`, minutes, code)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("set central minutes", err)
	}
	return nil
}

// RecomputeViability flips viable for every origin with a known central time.
// Origins with a null central time are untouched: they stay "pending", not
// "unreachable". Returns the number of rows updated.
func (s *OriginStore) RecomputeViability(ctx context.Context, thresholdMinutes int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE origins SET viable = (minutes_to_central <= $1) WHERE minutes_to_central IS NOT NULL`,
		thresholdMinutes)
	if err != nil {
		return 0, commonerrors.NewQueryExecutionFailedError("recompute viability", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// RecomputeViabilityFor recomputes the flag for one origin only.
func (s *OriginStore) RecomputeViabilityFor(ctx context.Context, code string, thresholdMinutes int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE origins SET viable = (minutes_to_central <= $1) WHERE code = $2 AND minutes_to_central IS NOT NULL`,
		thresholdMinutes, code)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("recompute viability", err)
	}
	return nil
}
