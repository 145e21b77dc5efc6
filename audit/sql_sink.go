package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLSink inserts entries into the audit_log table created by the pgstore
// migrations. Rows are never updated or deleted.
type SQLSink struct {
	db *sql.DB
}

func NewSQLSink(db *sql.DB) *SQLSink {
	return &SQLSink{db: db}
}

func (s *SQLSink) Write(ctx context.Context, e Entry) error {
	detail := []byte("{}")
	if len(e.Detail) > 0 {
		var err error
		if detail, err = json.Marshal(e.Detail); err != nil {
			return fmt.Errorf("audit: encode detail: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_log (id, occurred_at, actor_id, session_id, action, resource_type, resource_id, outcome, suspicious, ip, user_agent, detail)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		e.ID,
		e.Timestamp,
		e.ActorID,
		e.SessionID,
		string(e.Action),
		e.ResourceType,
		e.ResourceID,
		string(e.Outcome),
		e.Suspicious,
		e.IP,
		e.UserAgent,
		string(detail),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}
