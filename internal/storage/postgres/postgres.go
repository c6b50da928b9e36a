// Package postgres is the Postgres store adapter. Counters use atomic SQL
// increments; shared documents (groups, inventories, active effects) are
// stored as jsonb rows and mutated under row locks inside retried
// transactions, so concurrent writers serialize at the database instead of
// corrupting each other.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studycircle/studycircle/internal/models"
	"github.com/studycircle/studycircle/internal/storage"
)

// Store is a Postgres-backed implementation of the engine's collections.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an existing connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewPool creates a pgx connection pool for the given DSN and verifies the
// connection.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	uid              TEXT PRIMARY KEY,
	points           INTEGER NOT NULL DEFAULT 0,
	total_study_time INTEGER NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS study_groups (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS study_sessions (
	uid            TEXT NOT NULL,
	group_id       TEXT NOT NULL,
	total_time     INTEGER NOT NULL DEFAULT 0,
	sessions_count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (uid, group_id)
);

CREATE TABLE IF NOT EXISTS detailed_sessions (
	id            UUID PRIMARY KEY,
	uid           TEXT NOT NULL,
	group_id      TEXT NOT NULL,
	duration      INTEGER NOT NULL,
	points_earned INTEGER NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS detailed_sessions_uid_idx
	ON detailed_sessions (uid, created_at DESC);

CREATE TABLE IF NOT EXISTS user_inventory (
	uid TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS active_items (
	uid TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
`

// EnsureSchema creates the engine's tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// EnsureUser returns the user row, creating a zeroed one on first use.
func (s *Store) EnsureUser(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (uid) VALUES ($1)
		ON CONFLICT (uid) DO UPDATE SET uid = EXCLUDED.uid
		RETURNING uid, points, total_study_time, created_at
	`, uid).Scan(&u.UID, &u.Points, &u.TotalStudyTime, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}
	return &u, nil
}

// GetUser fetches a user row.
func (s *Store) GetUser(ctx context.Context, uid string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx, `
		SELECT uid, points, total_study_time, created_at FROM users WHERE uid = $1
	`, uid).Scan(&u.UID, &u.Points, &u.TotalStudyTime, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// AddUserPoints atomically increments a user's spendable balance.
func (s *Store) AddUserPoints(ctx context.Context, uid string, delta int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (uid, points) VALUES ($1, $2)
		ON CONFLICT (uid) DO UPDATE SET points = users.points + EXCLUDED.points
	`, uid, delta)
	if err != nil {
		return fmt.Errorf("failed to add user points: %w", err)
	}
	return nil
}

// AddUserStudyTime atomically increments a user's lifetime study seconds.
func (s *Store) AddUserStudyTime(ctx context.Context, uid string, seconds int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (uid, total_study_time) VALUES ($1, $2)
		ON CONFLICT (uid) DO UPDATE
		SET total_study_time = users.total_study_time + EXCLUDED.total_study_time
	`, uid, seconds)
	if err != nil {
		return fmt.Errorf("failed to add study time: %w", err)
	}
	return nil
}

// UpdateUser runs fn against the user row under a row lock.
func (s *Store) UpdateUser(ctx context.Context, uid string, fn func(*models.User) error) error {
	if _, err := s.EnsureUser(ctx, uid); err != nil {
		return err
	}
	return runTx(ctx, s.pool, func(tx pgx.Tx) error {
		var u models.User
		err := tx.QueryRow(ctx, `
			SELECT uid, points, total_study_time, created_at
			FROM users WHERE uid = $1 FOR UPDATE
		`, uid).Scan(&u.UID, &u.Points, &u.TotalStudyTime, &u.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to lock user row: %w", err)
		}

		if err := fn(&u); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE users SET points = $2, total_study_time = $3 WHERE uid = $1
		`, uid, u.Points, u.TotalStudyTime)
		if err != nil {
			return fmt.Errorf("failed to update user row: %w", err)
		}
		return nil
	})
}

// CreateGroup stores a new group document.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	doc, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to marshal group: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO study_groups (id, doc) VALUES ($1, $2)`, g.ID, doc)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	return nil
}

// GetGroup fetches a group document.
func (s *Store) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM study_groups WHERE id = $1`, groupID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	var g models.Group
	if err := json.Unmarshal(doc, &g); err != nil {
		return nil, fmt.Errorf("failed to unmarshal group: %w", err)
	}
	return &g, nil
}

// UpdateGroup runs fn against the group document under a row lock.
func (s *Store) UpdateGroup(ctx context.Context, groupID string, fn func(*models.Group) error) error {
	return runTx(ctx, s.pool, func(tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx, `SELECT doc FROM study_groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock group row: %w", err)
		}

		var g models.Group
		if err := json.Unmarshal(raw, &g); err != nil {
			return fmt.Errorf("failed to unmarshal group: %w", err)
		}

		if err := fn(&g); err != nil {
			return err
		}

		doc, err := json.Marshal(&g)
		if err != nil {
			return fmt.Errorf("failed to marshal group: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE study_groups SET doc = $2 WHERE id = $1`, groupID, doc); err != nil {
			return fmt.Errorf("failed to update group: %w", err)
		}
		return nil
	})
}

// AppendSessionRecord stores an immutable study-session history record.
func (s *Store) AppendSessionRecord(ctx context.Context, rec models.StudySessionRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO detailed_sessions (id, uid, group_id, duration, points_earned, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.UserID, rec.GroupID, rec.Duration, rec.PointsEarned, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append session record: %w", err)
	}
	return nil
}

// RecentSessions returns the newest session records for a user.
func (s *Store) RecentSessions(ctx context.Context, uid string, limit int) ([]models.StudySessionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, uid, group_id, duration, points_earned, created_at
		FROM detailed_sessions
		WHERE uid = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []models.StudySessionRecord
	for rows.Next() {
		var rec models.StudySessionRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.GroupID, &rec.Duration, &rec.PointsEarned, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan session record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AddPairTime increments the (user, group) aggregate.
func (s *Store) AddPairTime(ctx context.Context, uid, groupID string, seconds, sessions int) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO study_sessions (uid, group_id, total_time, sessions_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid, group_id) DO UPDATE
		SET total_time     = study_sessions.total_time + EXCLUDED.total_time,
		    sessions_count = study_sessions.sessions_count + EXCLUDED.sessions_count
	`, uid, groupID, seconds, sessions)
	if err != nil {
		return fmt.Errorf("failed to add pair time: %w", err)
	}
	return nil
}

// PairStats returns the aggregate for one (user, group) pair.
func (s *Store) PairStats(ctx context.Context, uid, groupID string) (*models.SessionStats, error) {
	stats := &models.SessionStats{UserID: uid, GroupID: groupID}
	err := s.pool.QueryRow(ctx, `
		SELECT total_time, sessions_count FROM study_sessions
		WHERE uid = $1 AND group_id = $2
	`, uid, groupID).Scan(&stats.TotalTime, &stats.SessionsCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pair stats: %w", err)
	}
	return stats, nil
}

// GetInventory fetches a user's inventory document.
func (s *Store) GetInventory(ctx context.Context, uid string) (*models.Inventory, error) {
	inv := &models.Inventory{UserID: uid}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM user_inventory WHERE uid = $1`, uid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return inv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inventory: %w", err)
	}
	if err := json.Unmarshal(raw, inv); err != nil {
		return nil, fmt.Errorf("failed to unmarshal inventory: %w", err)
	}
	return inv, nil
}

// UpdateInventory runs fn against the inventory document under a row lock.
func (s *Store) UpdateInventory(ctx context.Context, uid string, fn func(*models.Inventory) error) error {
	return s.updateDoc(ctx, "user_inventory", uid, func(raw []byte) ([]byte, error) {
		inv := &models.Inventory{UserID: uid}
		if raw != nil {
			if err := json.Unmarshal(raw, inv); err != nil {
				return nil, fmt.Errorf("failed to unmarshal inventory: %w", err)
			}
		}
		if err := fn(inv); err != nil {
			return nil, err
		}
		return json.Marshal(inv)
	})
}

// GetActiveEffects fetches a user's active-effects document.
func (s *Store) GetActiveEffects(ctx context.Context, uid string) (*models.ActiveEffects, error) {
	eff := &models.ActiveEffects{UserID: uid}
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT doc FROM active_items WHERE uid = $1`, uid).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return eff, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active effects: %w", err)
	}
	if err := json.Unmarshal(raw, eff); err != nil {
		return nil, fmt.Errorf("failed to unmarshal active effects: %w", err)
	}
	return eff, nil
}

// UpdateActiveEffects runs fn against the active-effects document under a
// row lock.
func (s *Store) UpdateActiveEffects(ctx context.Context, uid string, fn func(*models.ActiveEffects) error) error {
	return s.updateDoc(ctx, "active_items", uid, func(raw []byte) ([]byte, error) {
		eff := &models.ActiveEffects{UserID: uid}
		if raw != nil {
			if err := json.Unmarshal(raw, eff); err != nil {
				return nil, fmt.Errorf("failed to unmarshal active effects: %w", err)
			}
		}
		if err := fn(eff); err != nil {
			return nil, err
		}
		return json.Marshal(eff)
	})
}

// updateDoc is the shared read-modify-write path for per-user jsonb
// documents. The row is created empty on first touch so the lock has
// something to hold.
func (s *Store) updateDoc(ctx context.Context, table, uid string, mutate func(raw []byte) ([]byte, error)) error {
	return runTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO `+table+` (uid, doc) VALUES ($1, 'null'::jsonb)
			ON CONFLICT (uid) DO NOTHING
		`, uid)
		if err != nil {
			return fmt.Errorf("failed to seed %s row: %w", table, err)
		}

		var raw []byte
		if err := tx.QueryRow(ctx, `SELECT doc FROM `+table+` WHERE uid = $1 FOR UPDATE`, uid).Scan(&raw); err != nil {
			return fmt.Errorf("failed to lock %s row: %w", table, err)
		}
		if string(raw) == "null" {
			raw = nil
		}

		doc, err := mutate(raw)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `UPDATE `+table+` SET doc = $2 WHERE uid = $1`, uid, doc); err != nil {
			return fmt.Errorf("failed to update %s row: %w", table, err)
		}
		return nil
	})
}
