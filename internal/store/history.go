package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"agent-dispatch/internal/common/database"
	commonerrors "agent-dispatch/internal/common/errors"
	"agent-dispatch/internal/common/logger"
)

// HistoryStore records ranking queries for auditing. The Postgres insert is
// authoritative; the Elasticsearch index is a best-effort analytics sink and
// its failures are only logged.
type HistoryStore struct {
	db      *sql.DB
	es      *database.ElasticsearchClient
	esIndex string
	logger  logger.Logger
}

func NewHistoryStore(db *sql.DB, es *database.ElasticsearchClient, esIndex string, log logger.Logger) *HistoryStore {
	return &HistoryStore{
		db:      db,
		es:      es,
		esIndex: esIndex,
		logger:  log.WithFields(map[string]interface{}{"component": "history"}),
	}
}

// Record persists one search record.
func (s *HistoryStore) Record(ctx context.Context, rec SearchRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_history (query, ip, result, user_agent, created_at) VALUES ($1, $2, $3, $4, $5)`,
		rec.Query, rec.IP, rec.Result, rec.UserAgent, rec.At)
	if err != nil {
		return commonerrors.NewQueryExecutionFailedError("record search", err)
	}

	if s.es != nil {
		go s.index(rec)
	}

	return nil
}

func (s *HistoryStore) index(rec SearchRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	doc, err := json.Marshal(rec)
	if err != nil {
		return
	}

	res, err := s.es.Client.Index(
		s.esIndex,
		bytes.NewReader(doc),
		s.es.Client.Index.WithContext(ctx),
	)
	if err != nil {
		s.logger.Warn("failed to index search record", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		s.logger.Warn("search record index rejected", map[string]interface{}{
			"status": res.Status(),
		})
	}
}
