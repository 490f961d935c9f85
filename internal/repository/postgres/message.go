package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/remails-com/remails/internal/model"
)

// MessageStore owns the message state machine: insert, status update, and
// the queries the retry loop depends on (see spec §4.3).
type MessageStore interface {
	// Create resolves tenant/project/stream by joining through the
	// credential, and inserts the row in status processing.
	Create(ctx context.Context, newMessage *model.NewMessage, maxAttempts int) (*model.Message, error)
	UpdateMessageData(ctx context.Context, message *model.Message) error
	UpdateMessageStatus(ctx context.Context, message *model.Message) error
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
	// FindByID returns the row with RawData truncated to 10,000 bytes,
	// plus a flag signalling truncation happened.
	FindByID(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (msg *model.Message, isTruncated bool, err error)
	ListMetadata(ctx context.Context, tenantID uuid.UUID, filter MessageFilter) ([]model.Message, error)
	Remove(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (uuid.UUID, error)
	// FindMessagesReadyForRetry returns ids of rows in status ∈
	// {held, reattempt} with retry_after in the past and attempts <
	// max_attempts (P8).
	FindMessagesReadyForRetry(ctx context.Context) ([]uuid.UUID, error)
	// MarkReadyToRetryNow forces retry_after=now, bumps max_attempts
	// monotonically, and promotes a terminal row back to its retryable
	// counterpart (rejected→held, failed→reattempt).
	MarkReadyToRetryNow(ctx context.Context, id uuid.UUID) (*model.Message, error)
}

// MessageFilter narrows ListMetadata. Limit is clamped to 100; the store
// returns Limit+1 rows so callers can detect a further page without a
// second COUNT query.
type MessageFilter struct {
	Limit  int
	Status *model.MessageStatus
	Before *time.Time
}

const messageRawTruncateLength = 10_000

const messageColumns = `id, tenant_id, project_id, stream_id, smtp_credential_id,
	status, reason, delivery_details, from_email, recipients, raw_data,
	message_data, attempts, max_attempts, retry_after, created_at, updated_at`

type messageStore struct {
	pool *pgxpool.Pool
}

// NewMessageStore creates a new MessageStore backed by PostgreSQL.
func NewMessageStore(pool *pgxpool.Pool) MessageStore {
	return &messageStore{pool: pool}
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	m := &model.Message{}
	err := row.Scan(
		&m.ID, &m.TenantID, &m.ProjectID, &m.StreamID, &m.SmtpCredentialID,
		&m.Status, &m.Reason, &m.DeliveryDetails, &m.FromEmail, &m.Recipients, &m.RawData,
		&m.MessageData, &m.Attempts, &m.MaxAttempts, &m.RetryAfter, &m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func (s *messageStore) Create(ctx context.Context, nm *model.NewMessage, maxAttempts int) (*model.Message, error) {
	query := fmt.Sprintf(`
		INSERT INTO messages (id, tenant_id, project_id, stream_id, smtp_credential_id,
			status, reason, delivery_details, from_email, recipients, raw_data,
			message_data, attempts, max_attempts, retry_after, created_at, updated_at)
		SELECT gen_random_uuid(), o.tenant_id, p.id, st.id, $1,
			'processing', NULL, '{}'::jsonb, $2, $3, $4,
			'{}'::jsonb, 0, $5, NULL, now(), now()
		FROM smtp_credentials sc
		JOIN streams st ON st.id = sc.stream_id
		JOIN projects p ON p.id = st.project_id
		JOIN organizations o ON o.id = p.tenant_id
		WHERE sc.id = $1
		RETURNING %s`, messageColumns)

	row := s.pool.QueryRow(ctx, query, nm.SmtpCredentialID, nm.FromEmail, nm.Recipients, nm.RawData, maxAttempts)
	msg, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("smtp credential")
		}
		return nil, fmt.Errorf("create message: %w", err)
	}
	return msg, nil
}

func (s *messageStore) UpdateMessageData(ctx context.Context, m *model.Message) error {
	query := fmt.Sprintf(`
		UPDATE messages
		SET status = $2, message_data = $3, raw_data = $4, reason = $5, updated_at = now()
		WHERE id = $1
		RETURNING %s`, messageColumns)

	row := s.pool.QueryRow(ctx, query, m.ID, m.Status, m.MessageData, m.RawData, m.Reason)
	scanned, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return notFound("message")
		}
		return fmt.Errorf("update message data: %w", err)
	}
	*m = *scanned
	return nil
}

func (s *messageStore) UpdateMessageStatus(ctx context.Context, m *model.Message) error {
	query := fmt.Sprintf(`
		UPDATE messages
		SET status = $2, reason = $3, delivery_details = $4, retry_after = $5, attempts = $6, updated_at = now()
		WHERE id = $1
		RETURNING %s`, messageColumns)

	row := s.pool.QueryRow(ctx, query, m.ID, m.Status, m.Reason, m.DeliveryDetails, m.RetryAfter, m.Attempts)
	scanned, err := scanMessage(row)
	if err != nil {
		if isNoRows(err) {
			return notFound("message")
		}
		return fmt.Errorf("update message status: %w", err)
	}
	*m = *scanned
	return nil
}

func (s *messageStore) Get(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE id = $1`, messageColumns)

	m, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("message")
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *messageStore) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*model.Message, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM messages WHERE tenant_id = $1 AND id = $2`, messageColumns)

	m, err := scanMessage(s.pool.QueryRow(ctx, query, tenantID, id))
	if err != nil {
		if isNoRows(err) {
			return nil, false, notFound("message")
		}
		return nil, false, fmt.Errorf("find message by id: %w", err)
	}

	isTruncated := len(m.RawData) > messageRawTruncateLength
	if isTruncated {
		m.RawData = m.RawData[:messageRawTruncateLength]
	}
	return m, isTruncated, nil
}

func (s *messageStore) ListMetadata(ctx context.Context, tenantID uuid.UUID, filter MessageFilter) ([]model.Message, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM messages
		WHERE tenant_id = $1
		  AND ($2::message_status IS NULL OR status = $2)
		  AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4`, messageColumns)

	// Fetch one extra row so callers can tell whether another page
	// exists without a second round trip (ApiMessage-style pagination).
	rows, err := s.pool.Query(ctx, query, tenantID, filter.Status, filter.Before, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list message metadata: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		var m model.Message
		err := row.Scan(
			&m.ID, &m.TenantID, &m.ProjectID, &m.StreamID, &m.SmtpCredentialID,
			&m.Status, &m.Reason, &m.DeliveryDetails, &m.FromEmail, &m.Recipients, &m.RawData,
			&m.MessageData, &m.Attempts, &m.MaxAttempts, &m.RetryAfter, &m.CreatedAt, &m.UpdatedAt,
		)
		return m, err
	})
}

func (s *messageStore) Remove(ctx context.Context, tenantID, id uuid.UUID) (uuid.UUID, error) {
	query := `DELETE FROM messages WHERE tenant_id = $1 AND id = $2 RETURNING id`

	var removed uuid.UUID
	err := s.pool.QueryRow(ctx, query, tenantID, id).Scan(&removed)
	if err != nil {
		if isNoRows(err) {
			return uuid.Nil, notFound("message")
		}
		return uuid.Nil, fmt.Errorf("remove message: %w", err)
	}
	return removed, nil
}

func (s *messageStore) FindMessagesReadyForRetry(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM messages
		WHERE status IN ('held', 'reattempt')
		  AND retry_after IS NOT NULL
		  AND now() > retry_after
		  AND attempts < max_attempts`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("find messages ready for retry: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (uuid.UUID, error) {
		var id uuid.UUID
		err := row.Scan(&id)
		return id, err
	})
}

func (s *messageStore) MarkReadyToRetryNow(ctx context.Context, id uuid.UUID) (*model.Message, error) {
	query := fmt.Sprintf(`
		UPDATE messages
		SET retry_after = now(),
		    max_attempts = GREATEST(attempts + 1, max_attempts),
		    status = CASE status
		        WHEN 'rejected' THEN 'held'
		        WHEN 'failed' THEN 'reattempt'
		        ELSE status
		    END,
		    updated_at = now()
		WHERE id = $1
		RETURNING %s`, messageColumns)

	m, err := scanMessage(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, notFound("message")
		}
		return nil, fmt.Errorf("mark ready to retry now: %w", err)
	}
	return m, nil
}
