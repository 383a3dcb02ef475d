package pg

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/Davelummy/taxagent/internal/audit"
)

var _ audit.Sink = (*Store)(nil)

// WriteAudit inserts one event. Event ids make retried writes idempotent.
func (s *Store) WriteAudit(ctx context.Context, ev audit.Event) error {
	meta := []byte("{}")
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eris.Wrap(err, "pg: encode audit metadata")
		}
		meta = b
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_events (id, request_id, actor_user_id, actor_email, actor_role, action_type,
			target_user_id, target_email, target_username, metadata, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		on conflict (id) do nothing`,
		ev.ID, nullIfEmpty(ev.RequestID), nullIfEmpty(ev.ActorUserID), nullIfEmpty(ev.ActorEmail), nullIfEmpty(ev.ActorRole),
		string(ev.Action), nullIfEmpty(ev.TargetUserID), nullIfEmpty(ev.TargetEmail), nullIfEmpty(ev.TargetUsername),
		meta, ev.CreatedAt)
	return classify(err, "pg: insert audit event")
}
