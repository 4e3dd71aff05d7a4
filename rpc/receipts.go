package rpc

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"lukechampine.com/blake3"
	_ "modernc.org/sqlite"
)

// ErrIntentMismatch is returned when an idempotency key is reused with a
// different request payload.
var ErrIntentMismatch = errors.New("rpc: idempotency key reused with a different payload")

// ReceiptStore persists the response of every mutating request keyed by the
// caller's idempotency key, so network retries replay the original outcome
// instead of moving funds twice.
type ReceiptStore struct {
	db *sql.DB
}

// NewReceiptStore opens (or creates) the receipt database at path.
func NewReceiptStore(path string) (*ReceiptStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open receipt store: %w", err)
	}
	store := &ReceiptStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *ReceiptStore) init() error {
	schema := `CREATE TABLE IF NOT EXISTS receipts (
        intent_key TEXT PRIMARY KEY,
        request_hash TEXT NOT NULL,
        response_body BLOB NOT NULL,
        created_at TIMESTAMP NOT NULL
    );`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialise receipt schema: %w", err)
	}
	return nil
}

// Lookup returns the stored response for key, if any. A key found with a
// different request hash yields ErrIntentMismatch.
func (s *ReceiptStore) Lookup(ctx context.Context, key, requestHash string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT request_hash, response_body FROM receipts WHERE intent_key = ?`, key)
	var storedHash string
	var body []byte
	switch err := row.Scan(&storedHash, &body); {
	case errors.Is(err, sql.ErrNoRows):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("lookup receipt: %w", err)
	}
	if storedHash != requestHash {
		return nil, false, ErrIntentMismatch
	}
	return body, true, nil
}

// Save records the response for key. The first writer wins; concurrent
// retries that lose the race replay the stored body on their next lookup.
func (s *ReceiptStore) Save(ctx context.Context, key, requestHash string, response []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (intent_key, request_hash, response_body, created_at)
         VALUES (?, ?, ?, ?)
         ON CONFLICT(intent_key) DO NOTHING`,
		key, requestHash, response, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save receipt: %w", err)
	}
	return nil
}

// Prune removes receipts older than the retention window.
func (s *ReceiptStore) Prune(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().UTC().Add(-retention)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM receipts WHERE created_at < ?`, cutoff); err != nil {
		return fmt.Errorf("prune receipts: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *ReceiptStore) Close() error {
	return s.db.Close()
}

// payloadHash fingerprints a request body for idempotency comparison.
func payloadHash(body []byte) string {
	sum := blake3.Sum256(body)
	return hex.EncodeToString(sum[:])
}
