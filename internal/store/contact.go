package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertContact inserts or updates a contact.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contacts (id, username, email, avatar_url, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE contacts.username END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
			avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END,
			updated_at = excluded.updated_at`,
		c.ID, c.Username, c.Email, c.AvatarURL, now)
	return err
}

// BulkUpsertContacts inserts or updates multiple contacts in a single transaction.
func (db *DB) BulkUpsertContacts(contacts []Contact) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, c := range contacts {
		if _, err := tx.Exec(`
			INSERT INTO contacts (id, username, email, avatar_url, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = CASE WHEN excluded.username != '' THEN excluded.username ELSE contacts.username END,
				email = CASE WHEN excluded.email != '' THEN excluded.email ELSE contacts.email END,
				avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE contacts.avatar_url END,
				updated_at = excluded.updated_at`,
			c.ID, c.Username, c.Email, c.AvatarURL, now); err != nil {
			return fmt.Errorf("upsert contact %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// GetContact returns a contact by id, or nil when unknown.
func (db *DB) GetContact(id string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT id, username, email, avatar_url FROM contacts WHERE id = ?`, id).
		Scan(&c.ID, &c.Username, &c.Email, &c.AvatarURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns all cached contacts sorted by username.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`SELECT id, username, email, avatar_url FROM contacts ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Username, &c.Email, &c.AvatarURL); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// ContactCount returns the total number of cached contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}

// MessageCount returns the total number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
