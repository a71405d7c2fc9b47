package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pkgdb "github.com/ahwlsqja/csrf-recovery/pkg/db"
	"go.uber.org/zap"
)

// Schema creates the sessions table used by MySQLStore.
const Schema = `CREATE TABLE IF NOT EXISTS sessions (
	id          VARCHAR(64)  NOT NULL PRIMARY KEY,
	payload     TEXT         NOT NULL,
	expires_at  DATETIME(6)  NOT NULL,
	updated_at  DATETIME(6)  NOT NULL,
	INDEX idx_sessions_expires_at (expires_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

const (
	selectSession  = `SELECT payload FROM sessions WHERE id = ?`
	upsertSession  = `INSERT INTO sessions (id, payload, expires_at, updated_at) VALUES (?, ?, ?, ?) ON DUPLICATE KEY UPDATE payload = VALUES(payload), expires_at = VALUES(expires_at), updated_at = VALUES(updated_at)`
	deleteSession  = `DELETE FROM sessions WHERE id = ?`
	deleteExpired  = `DELETE FROM sessions WHERE expires_at <= ?`
	selectSessions = `SELECT id FROM sessions ORDER BY id`
)

// MySQLStore implements Store on a MySQL table. Expired rows are pruned
// opportunistically on every write.
type MySQLStore struct {
	txRunner *pkgdb.TxRunner
	logger   *zap.Logger
	now      func() time.Time
}

var _ Store = (*MySQLStore)(nil)

// NewMySQLStore creates a MySQL-backed session store.
func NewMySQLStore(txRunner *pkgdb.TxRunner, logger *zap.Logger) *MySQLStore {
	return &MySQLStore{
		txRunner: txRunner,
		logger:   logger,
		now:      time.Now,
	}
}

// EnsureSchema creates the sessions table when missing.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	return pkgdb.EnsureSchema(ctx, s.txRunner.DB(), Schema)
}

func (s *MySQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var payload []byte
	err := s.txRunner.DB().QueryRowContext(ctx, selectSession, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		s.logger.Error("failed to load session", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess, err := decode(payload)
	if err != nil {
		s.logger.Warn("corrupt session payload", zap.String("session_id", id), zap.Error(err))
		return nil, err
	}
	return sess, nil
}

func (s *MySQLStore) Save(ctx context.Context, sess *Session) error {
	payload, err := encode(sess)
	if err != nil {
		return err
	}

	now := s.now().UTC()
	err = s.txRunner.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteExpired, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, upsertSession, sess.ID, payload, sess.ExpiresAt.UTC(), now)
		return err
	})
	if err != nil {
		s.logger.Error("failed to save session", zap.String("session_id", sess.ID), zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *MySQLStore) Delete(ctx context.Context, id string) error {
	if _, err := s.txRunner.DB().ExecContext(ctx, deleteSession, id); err != nil {
		s.logger.Error("failed to delete session", zap.String("session_id", id), zap.Error(err))
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *MySQLStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.txRunner.DB().QueryContext(ctx, selectSessions)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
