package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	commonerrors "agent-dispatch/internal/common/errors"
)

// AgentStore reads agent rows. Agents are owned by an external management
// collaborator; the core never mutates them.
type AgentStore struct {
	db *sql.DB
}

func NewAgentStore(db *sql.DB) *AgentStore {
	return &AgentStore{db: db}
}

const agentColumns = `id, name, address, city, zip_code, lat, lng, active`

func scanAgent(row interface{ Scan(...interface{}) error }) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.Address, &a.City, &a.ZipCode, &a.Lat, &a.Lng, &a.Active)
	return a, err
}

// GetByID returns one agent.
func (s *AgentStore) GetByID(ctx context.Context, id int) (*Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`, id)

	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, commonerrors.NewInvalidInputError(fmt.Sprintf("agent %d not found", id))
		}
		return nil, commonerrors.NewQueryExecutionFailedError("get agent", err)
	}
	return &a, nil
}

// ListActive returns the agents eligible for ranking and precalculation.
func (s *AgentStore) ListActive(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE active = TRUE ORDER BY name`)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("list agents", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("scan agent", err)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("list agents", err)
	}
	return agents, nil
}
