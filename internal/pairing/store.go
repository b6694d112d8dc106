// ABOUTME: SQLite-backed pairing-approval store using modernc.org/sqlite.
// ABOUTME: Idempotent upsert of pairing requests keyed by (account, sender).

package pairing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrCodeNotFound is returned when approving a code that doesn't exist.
var ErrCodeNotFound = errors.New("pairing code not found")

// Request is one pending or approved pairing record.
type Request struct {
	Account   string
	Sender    string
	Code      string
	Approved  bool
	CreatedAt time.Time
}

// Store persists pairing requests and approvals in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) the pairing database at the given path.
// Parent directories are created if needed.
func NewStore(path string) (*Store, error) {
	logger := slog.Default().With("component", "pairing")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("pairing store initialized", "path", path)
	return s, nil
}

// createSchema creates the pairing table if it doesn't exist.
func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pairings (
			account TEXT NOT NULL,
			sender TEXT NOT NULL,
			code TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			approved_at DATETIME,
			PRIMARY KEY (account, sender)
		);

		CREATE INDEX IF NOT EXISTS idx_pairings_code ON pairings(account, code);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Upsert records a pairing request for (account, sender). The operation is
// idempotent: a repeat request returns the existing code with created=false,
// so the requester is only ever sent one code.
func (s *Store) Upsert(ctx context.Context, account, sender string) (code string, created bool, err error) {
	sender = normalize(sender)
	code = newCode()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pairings (account, sender, code, approved, created_at)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT (account, sender) DO NOTHING`,
		account, sender, code, time.Now().UTC())
	if err != nil {
		return "", false, fmt.Errorf("inserting pairing request: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("checking insert result: %w", err)
	}
	if n > 0 {
		s.logger.Info("pairing request recorded", "account", account, "sender", sender)
		return code, true, nil
	}

	// Already present: return the stored code.
	row := s.db.QueryRowContext(ctx,
		`SELECT code FROM pairings WHERE account = ? AND sender = ?`, account, sender)
	if err := row.Scan(&code); err != nil {
		return "", false, fmt.Errorf("loading existing pairing code: %w", err)
	}
	return code, false, nil
}

// Approve marks the pairing with the given code as approved and returns the
// sender it belongs to.
func (s *Store) Approve(ctx context.Context, account, code string) (string, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT sender FROM pairings WHERE account = ? AND code = ?`, account, code)

	var sender string
	if err := row.Scan(&sender); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrCodeNotFound
		}
		return "", fmt.Errorf("looking up pairing code: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE pairings SET approved = 1, approved_at = ?
		WHERE account = ? AND code = ?`,
		time.Now().UTC(), account, code); err != nil {
		return "", fmt.Errorf("approving pairing: %w", err)
	}

	s.logger.Info("pairing approved", "account", account, "sender", sender)
	return sender, nil
}

// Approved returns the approved senders for an account, for unioning with
// the configured allow-list.
func (s *Store) Approved(ctx context.Context, account string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sender FROM pairings WHERE account = ? AND approved = 1 ORDER BY sender`, account)
	if err != nil {
		return nil, fmt.Errorf("listing approved senders: %w", err)
	}
	defer rows.Close()

	var senders []string
	for rows.Next() {
		var sender string
		if err := rows.Scan(&sender); err != nil {
			return nil, fmt.Errorf("scanning sender: %w", err)
		}
		senders = append(senders, sender)
	}
	return senders, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// newCode derives a short human-relayable pairing code.
func newCode() string {
	return strings.ToUpper(uuid.New().String()[:8])
}

// normalize matches the gate's allow-list normalization.
func normalize(sender string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(sender), "@"))
}
