package sqlite

import (
	"context"
	"database/sql"
	"log"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"collab-server/core"
)

// Open opens (or creates) the collaboration database and ensures its
// schema exists. Lock and activity stores share one handle.
func Open(dataSourceName string) *sql.DB {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		log.Fatalf("failed to open sqlite database: %v", err)
	}

	lockTableStmt := `
	CREATE TABLE IF NOT EXISTS resource_locks (
		resource_id TEXT PRIMARY KEY,
		holder_actor_id TEXT NOT NULL,
		holder_display_name TEXT,
		locked_at DATETIME NOT NULL
	);`
	if _, err = db.Exec(lockTableStmt); err != nil {
		log.Fatalf("failed to create resource_locks table: %v", err)
	}

	activityTableStmt := `
	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		detail TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activity_resource
		ON activity_log (resource_id, created_at);`
	if _, err = db.Exec(activityTableStmt); err != nil {
		log.Fatalf("failed to create activity_log table: %v", err)
	}

	return db
}

type lockStore struct {
	db *sql.DB
}

func NewLockStore(db *sql.DB) core.LockStore {
	return &lockStore{db: db}
}

func (s *lockStore) Upsert(ctx context.Context, record core.LockRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resource_locks (resource_id, holder_actor_id, holder_display_name, locked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			holder_actor_id = excluded.holder_actor_id,
			holder_display_name = excluded.holder_display_name,
			locked_at = excluded.locked_at`,
		record.ResourceID, record.HolderActorID, record.HolderDisplayName, record.LockedAt)
	if err != nil {
		logrus.WithError(err).WithField("resource_id", record.ResourceID).Error("Failed to upsert lock record")
		return err
	}
	return nil
}

func (s *lockStore) Delete(ctx context.Context, resourceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM resource_locks WHERE resource_id = ?", resourceID)
	if err != nil {
		logrus.WithError(err).WithField("resource_id", resourceID).Error("Failed to delete lock record")
		return err
	}
	return nil
}

func (s *lockStore) List(ctx context.Context) ([]core.LockRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT resource_id, holder_actor_id, holder_display_name, locked_at FROM resource_locks")
	if err != nil {
		logrus.WithError(err).Error("Failed to list lock records")
		return nil, err
	}
	defer rows.Close()

	var records []core.LockRecord
	for rows.Next() {
		var rec core.LockRecord
		if err := rows.Scan(&rec.ResourceID, &rec.HolderActorID, &rec.HolderDisplayName, &rec.LockedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type activityStore struct {
	db *sql.DB
}

func NewActivityStore(db *sql.DB) core.ActivityStore {
	return &activityStore{db: db}
}

func (s *activityStore) Record(ctx context.Context, entry core.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, actor_id, action, resource_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorID, entry.Action, entry.ResourceID, entry.Detail, entry.CreatedAt)
	if err != nil {
		logrus.WithError(err).WithField("action", entry.Action).Error("Failed to record activity")
		return err
	}
	return nil
}

func (s *activityStore) Recent(ctx context.Context, resourceID string, limit int) ([]core.ActivityEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, actor_id, action, resource_id, detail, created_at
		FROM activity_log`
	args := []any{}
	if resourceID != "" {
		query += " WHERE resource_id = ?"
		args = append(args, resourceID)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logrus.WithError(err).Error("Failed to query activity log")
		return nil, err
	}
	defer rows.Close()

	entries := make([]core.ActivityEntry, 0, limit)
	for rows.Next() {
		var e core.ActivityEntry
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
