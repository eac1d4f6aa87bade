package store

import (
	"fmt"
	"time"
)

// OutboxStatus is the delivery status of a queued remote_post.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxMessage is a remote_post queued for delivery to the shard owning
// ToUsername, persisted before the first delivery attempt so a crash
// between "decided to post" and "sent" never silently drops a posting.
type OutboxMessage struct {
	ID          int64
	MessageID   string
	UID         string
	ToUsername  string
	ShardID     int
	Payload     []byte
	CreatedAt   time.Time
	RetryCount  int
	NextRetryAt time.Time
	Status      OutboxStatus
	Error       string
}

// EnqueueOutbox persists a remote_post before it is ever sent over the wire.
func (s *Store) EnqueueOutbox(msg *OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO message_outbox (message_id, uid, to_username, shard_id, payload, created_at, retry_count, next_retry_at, status)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, 'pending')
	`, msg.MessageID, msg.UID, msg.ToUsername, msg.ShardID, msg.Payload, now, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// PendingOutbox returns messages due for delivery, oldest first.
func (s *Store) PendingOutbox(now time.Time, limit int) ([]*OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, message_id, uid, to_username, shard_id, payload, created_at, retry_count, next_retry_at, status, error_message
		FROM message_outbox
		WHERE status = 'pending' AND next_retry_at <= ?
		ORDER BY next_retry_at ASC
		LIMIT ?
	`, now.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []*OutboxMessage
	for rows.Next() {
		m, err := scanOutboxRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func scanOutboxRow(rows interface {
	Scan(dest ...interface{}) error
}) (*OutboxMessage, error) {
	var m OutboxMessage
	var createdAt, nextRetryAt int64
	var status string
	var errMsg *string
	if err := rows.Scan(&m.ID, &m.MessageID, &m.UID, &m.ToUsername, &m.ShardID, &m.Payload,
		&createdAt, &m.RetryCount, &nextRetryAt, &status, &errMsg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	m.CreatedAt = time.Unix(createdAt, 0)
	m.NextRetryAt = time.Unix(nextRetryAt, 0)
	m.Status = OutboxStatus(status)
	if errMsg != nil {
		m.Error = *errMsg
	}
	return &m, nil
}

// MarkOutboxSent flips a message to delivered.
func (s *Store) MarkOutboxSent(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE message_outbox SET status = 'sent' WHERE message_id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// ScheduleOutboxRetry bumps the retry counter and sets the next attempt time.
func (s *Store) ScheduleOutboxRetry(messageID string, nextRetryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE message_outbox SET retry_count = retry_count + 1, next_retry_at = ? WHERE message_id = ?
	`, nextRetryAt.Unix(), messageID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// MarkOutboxFailed flips a message to permanently failed.
func (s *Store) MarkOutboxFailed(messageID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE message_outbox SET status = 'failed', error_message = ? WHERE message_id = ?`, reason, messageID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// SeenInbox reports whether a message id has already been processed, for
// remote_post de-duplication on the receiving shard.
func (s *Store) SeenInbox(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM message_inbox WHERE message_id = ?`, messageID).Scan(&exists)
	if err == nil {
		return true, nil
	}
	return false, nil
}

// RecordInbox marks a message id as processed.
func (s *Store) RecordInbox(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR IGNORE INTO message_inbox (message_id, received_at) VALUES (?, ?)`,
		messageID, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// CleanupOldOutbox deletes delivered/failed messages older than before.
func (s *Store) CleanupOldOutbox(before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		DELETE FROM message_outbox WHERE status IN ('sent', 'failed') AND created_at < ?
	`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return result.RowsAffected()
}
