package repositories

import (
	"database/sql"
	"fmt"
)

// NextSequence increments and returns the sequence number for collection inside tx.
//
// Sequence numbers give documents a stable insertion order. They are never exposed on the wire.
func NextSequence(tx *sql.Tx, collection string) (int64, error) {
	_, err := tx.Exec(`
		INSERT INTO documents_sequence (collection, value) VALUES (?, 1)
		ON CONFLICT(collection) DO UPDATE SET value = value + 1
	`, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to increment sequence: %w", err)
	}

	var sequence int64
	if err := tx.QueryRow("SELECT value FROM documents_sequence WHERE collection = ?", collection).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("failed to get sequence value: %w", err)
	}

	return sequence, nil
}
