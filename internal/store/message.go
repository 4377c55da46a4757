package store

import "time"

// UpsertMessage inserts or updates a message (idempotent on conversation_id + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (conversation_id, msg_id, sender_id, receiver_id, body, image_url, sent_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, msg_id) DO UPDATE SET
			body = excluded.body,
			image_url = excluded.image_url,
			sent_at = excluded.sent_at`,
		m.ConversationID, m.MsgID, m.SenderID, m.ReceiverID, m.Body, m.ImageURL, m.SentAt, now)
	return err
}

// ListMessages returns messages for a conversation using keyset pagination
// by sent_at.
func (db *DB) ListMessages(conversationID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, conversation_id, msg_id, sender_id, receiver_id, body, image_url, sent_at
		FROM messages
		WHERE conversation_id = ? AND sent_at < ?
		ORDER BY sent_at DESC
		LIMIT ?`, conversationID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.MsgID, &m.SenderID, &m.ReceiverID, &m.Body, &m.ImageURL, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
