package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/casedesk/casedesk/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// PostgresStore implements Store backed by PostgreSQL via pgx. The
// conversation lives in its own append-only table so a concurrent message
// event and button click against the same case cannot lose an append; the
// cases row itself gets last-writer-wins per statement.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}

	log.Info().Msg("PostgreSQL case store initialized")
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	ddl := `
		CREATE TABLE IF NOT EXISTS cases (
			case_id        TEXT PRIMARY KEY,
			client_id      TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'pending',
			channel_id     TEXT NOT NULL DEFAULT '',
			thread_ts      TEXT NOT NULL DEFAULT '',
			client_data    JSONB NOT NULL DEFAULT '{}',
			tags           JSONB NOT NULL DEFAULT '[]',
			missing_fields JSONB NOT NULL DEFAULT '[]',
			brief_summary  TEXT NOT NULL DEFAULT '',
			updated_by     TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS case_messages (
			id      BIGSERIAL PRIMARY KEY,
			case_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			text    TEXT NOT NULL DEFAULT '',
			ts      TEXT NOT NULL DEFAULT '',
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_cases_client ON cases (client_id, updated_at DESC);
		CREATE INDEX IF NOT EXISTS idx_case_messages_case ON case_messages (case_id, id);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PostgresStore) FetchState(ctx context.Context, caseID string) ([]string, []models.Message, error) {
	missingFields := []string{}

	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT missing_fields FROM cases WHERE case_id = $1`, caseID).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return []string{}, []models.Message{}, nil
	case err != nil:
		return nil, nil, fmt.Errorf("fetch case state: %w", err)
	}
	if err := json.Unmarshal(raw, &missingFields); err != nil {
		return nil, nil, fmt.Errorf("decode missing_fields: %w", err)
	}

	conversation, err := s.fetchConversation(ctx, caseID)
	if err != nil {
		return nil, nil, err
	}
	return missingFields, conversation, nil
}

func (s *PostgresStore) fetchConversation(ctx context.Context, caseID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, text, ts, sent_at FROM case_messages WHERE case_id = $1 ORDER BY id ASC`, caseID)
	if err != nil {
		return nil, fmt.Errorf("fetch conversation: %w", err)
	}
	defer rows.Close()

	conversation := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.UserID, &m.Text, &m.Timestamp, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversation = append(conversation, m)
	}
	return conversation, rows.Err()
}

func (s *PostgresStore) PersistState(ctx context.Context, caseID string, missingFields []string, newMessage models.Message) error {
	if missingFields == nil {
		missingFields = []string{}
	}
	mf, err := json.Marshal(missingFields)
	if err != nil {
		return fmt.Errorf("encode missing_fields: %w", err)
	}
	sentAt := newMessage.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now().UTC()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin persist: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO cases (case_id, thread_ts, missing_fields)
		VALUES ($1, $1, $2)
		ON CONFLICT (case_id) DO UPDATE SET
			missing_fields = EXCLUDED.missing_fields,
			updated_at = NOW()`,
		caseID, mf)
	if err != nil {
		return fmt.Errorf("upsert case state: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO case_messages (case_id, user_id, text, ts, sent_at)
		VALUES ($1, $2, $3, $4, $5)`,
		caseID, newMessage.UserID, newMessage.Text, newMessage.Timestamp, sentAt)
	if err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, caseID string, status models.CaseStatus, actorID string) bool {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cases
		SET status = $1, updated_by = $2, updated_at = NOW()
		WHERE case_id = $3`,
		string(status), actorID, caseID)
	if err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Case status update failed")
		return false
	}
	return tag.RowsAffected() > 0
}

func (s *PostgresStore) FetchHistorical(ctx context.Context, clientID string, limit int) ([]models.CaseSummary, error) {
	if limit <= 0 {
		limit = DefaultHistoricalLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT case_id, status, updated_at, brief_summary, thread_ts, channel_id
		FROM cases
		WHERE client_id = $1
		ORDER BY updated_at DESC
		LIMIT $2`,
		clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch historical cases: %w", err)
	}
	defer rows.Close()

	var summaries []models.CaseSummary
	for rows.Next() {
		var cs models.CaseSummary
		var status string
		if err := rows.Scan(&cs.CaseID, &status, &cs.UpdatedAt, &cs.BriefSummary, &cs.ThreadTS, &cs.ChannelID); err != nil {
			return nil, fmt.Errorf("scan historical row: %w", err)
		}
		cs.Status = models.CaseStatus(status)
		summaries = append(summaries, cs)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*models.Case, error) {
	var (
		c                    models.Case
		status               string
		clientData, tags, mf []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT case_id, client_id, status, channel_id, thread_ts,
		       client_data, tags, missing_fields, brief_summary, updated_by,
		       created_at, updated_at
		FROM cases WHERE case_id = $1`,
		caseID).Scan(
		&c.CaseID, &c.ClientID, &status, &c.ChannelID, &c.ThreadTS,
		&clientData, &tags, &mf, &c.BriefSummary, &c.UpdatedBy,
		&c.CreatedAt, &c.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &ErrNotFound{Entity: "case", Key: caseID}
	case err != nil:
		return nil, fmt.Errorf("get case: %w", err)
	}

	c.Status = models.CaseStatus(status)
	if err := json.Unmarshal(clientData, &c.ClientData); err != nil {
		return nil, fmt.Errorf("decode client_data: %w", err)
	}
	if err := json.Unmarshal(tags, &c.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal(mf, &c.MissingFields); err != nil {
		return nil, fmt.Errorf("decode missing_fields: %w", err)
	}

	conversation, err := s.fetchConversation(ctx, caseID)
	if err != nil {
		return nil, err
	}
	c.Conversation = conversation
	return &c, nil
}

func (s *PostgresStore) SaveCase(ctx context.Context, c *models.Case) bool {
	if c == nil || c.CaseID == "" {
		return false
	}

	clientData, tags, mf, err := encodeCaseJSON(c)
	if err != nil {
		log.Warn().Err(err).Str("case_id", c.CaseID).Msg("Case save failed")
		return false
	}

	// Merge-style upsert: empty incoming fields keep the stored values.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cases (case_id, client_id, status, channel_id, thread_ts,
		                   client_data, tags, missing_fields, brief_summary, updated_by)
		VALUES ($1, $2, COALESCE(NULLIF($3, ''), 'pending'), $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (case_id) DO UPDATE SET
			client_id      = COALESCE(NULLIF(EXCLUDED.client_id, ''), cases.client_id),
			status         = COALESCE(NULLIF(EXCLUDED.status, ''), cases.status),
			channel_id     = COALESCE(NULLIF(EXCLUDED.channel_id, ''), cases.channel_id),
			client_data    = CASE WHEN EXCLUDED.client_data = '{}'::jsonb THEN cases.client_data ELSE EXCLUDED.client_data END,
			tags           = CASE WHEN EXCLUDED.tags = '[]'::jsonb THEN cases.tags ELSE EXCLUDED.tags END,
			missing_fields = CASE WHEN EXCLUDED.missing_fields = '[]'::jsonb THEN cases.missing_fields ELSE EXCLUDED.missing_fields END,
			brief_summary  = COALESCE(NULLIF(EXCLUDED.brief_summary, ''), cases.brief_summary),
			updated_by     = COALESCE(NULLIF(EXCLUDED.updated_by, ''), cases.updated_by),
			updated_at     = NOW()`,
		c.CaseID, c.ClientID, string(c.Status), c.ChannelID, c.ThreadTS,
		clientData, tags, mf, c.BriefSummary, c.UpdatedBy)
	if err != nil {
		log.Warn().Err(err).Str("case_id", c.CaseID).Msg("Case save failed")
		return false
	}
	return true
}

func encodeCaseJSON(c *models.Case) (clientData, tags, mf []byte, err error) {
	cd := c.ClientData
	if cd == nil {
		cd = map[string]interface{}{}
	}
	if clientData, err = json.Marshal(cd); err != nil {
		return nil, nil, nil, fmt.Errorf("encode client_data: %w", err)
	}
	tg := c.Tags
	if tg == nil {
		tg = []string{}
	}
	if tags, err = json.Marshal(tg); err != nil {
		return nil, nil, nil, fmt.Errorf("encode tags: %w", err)
	}
	fields := c.MissingFields
	if fields == nil {
		fields = []string{}
	}
	if mf, err = json.Marshal(fields); err != nil {
		return nil, nil, nil, fmt.Errorf("encode missing_fields: %w", err)
	}
	return clientData, tags, mf, nil
}

func (s *PostgresStore) FetchExpired(ctx context.Context, before time.Time, limit int) ([]models.Case, error) {
	if limit <= 0 {
		limit = DefaultHistoricalLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT case_id, client_id, status, channel_id, thread_ts,
		       client_data, tags, missing_fields, brief_summary, updated_by,
		       created_at, updated_at
		FROM cases
		WHERE updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch expired cases: %w", err)
	}
	defer rows.Close()

	var expired []models.Case
	for rows.Next() {
		var (
			c                    models.Case
			status               string
			clientData, tags, mf []byte
		)
		if err := rows.Scan(
			&c.CaseID, &c.ClientID, &status, &c.ChannelID, &c.ThreadTS,
			&clientData, &tags, &mf, &c.BriefSummary, &c.UpdatedBy,
			&c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan expired row: %w", err)
		}
		c.Status = models.CaseStatus(status)
		if err := json.Unmarshal(clientData, &c.ClientData); err != nil {
			return nil, fmt.Errorf("decode client_data: %w", err)
		}
		if err := json.Unmarshal(tags, &c.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		if err := json.Unmarshal(mf, &c.MissingFields); err != nil {
			return nil, fmt.Errorf("decode missing_fields: %w", err)
		}
		expired = append(expired, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Conversations are fetched per case so archived records are complete.
	for i := range expired {
		conversation, err := s.fetchConversation(ctx, expired[i].CaseID)
		if err != nil {
			return nil, err
		}
		expired[i].Conversation = conversation
	}
	return expired, nil
}

func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) bool {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Case delete failed")
		return false
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM case_messages WHERE case_id = $1`, caseID); err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Case delete failed")
		return false
	}
	tag, err := tx.Exec(ctx, `DELETE FROM cases WHERE case_id = $1`, caseID)
	if err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Case delete failed")
		return false
	}
	if err := tx.Commit(ctx); err != nil {
		log.Warn().Err(err).Str("case_id", caseID).Msg("Case delete failed")
		return false
	}
	return tag.RowsAffected() > 0
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
