package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// JournalFile is the journal's name inside the recording directory.
const JournalFile = "driving_log.db"

// Journal indexes recorded frames with the telemetry and command of their
// tick, in the column order of a driving log.
type Journal struct {
	db   *sql.DB
	path string
}

// JournalRow is one journal entry.
type JournalRow struct {
	ID              int64
	Image           string
	SessionID       string
	RecordedAt      time.Time
	SteeringAngle   float64
	Throttle        float64
	Speed           float64
	CommandSteering float64
	CommandThrottle float64
	SpeedLimit      float64
}

// OpenJournal opens or creates the journal database at path.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &IOError{Op: "open journal", Path: path, Err: err}
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, &IOError{Op: "open journal", Path: path, Err: fmt.Errorf("failed to enable WAL mode: %w", err)}
	}

	j := &Journal{db: db, path: path}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, &IOError{Op: "open journal", Path: path, Err: err}
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			image TEXT NOT NULL UNIQUE,
			session_id TEXT NOT NULL,
			recorded_at INTEGER NOT NULL,
			steering_angle REAL NOT NULL,
			throttle REAL NOT NULL,
			speed REAL NOT NULL,
			command_steering REAL NOT NULL,
			command_throttle REAL NOT NULL,
			speed_limit REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_frames_session ON frames(session_id);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Append inserts the row for one recorded image.
func (j *Journal) Append(ctx context.Context, at time.Time, image string, e Entry) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO frames (image, session_id, recorded_at, steering_angle, throttle, speed,
			command_steering, command_throttle, speed_limit)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		image, e.SessionID, at.UnixMicro(), e.SteeringAngle, e.Throttle, e.Speed,
		e.CommandSteering, e.CommandThrottle, e.SpeedLimit,
	)
	if err != nil {
		return &IOError{Op: "journal", Path: j.path, Err: err}
	}
	return nil
}

// Rows returns every row in insertion order.
func (j *Journal) Rows(ctx context.Context) ([]JournalRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, image, session_id, recorded_at, steering_angle, throttle, speed,
			command_steering, command_throttle, speed_limit
		FROM frames ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var out []JournalRow
	for rows.Next() {
		var (
			row JournalRow
			at  int64
		)
		if err := rows.Scan(&row.ID, &row.Image, &row.SessionID, &at, &row.SteeringAngle, &row.Throttle,
			&row.Speed, &row.CommandSteering, &row.CommandThrottle, &row.SpeedLimit); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		row.RecordedAt = time.UnixMicro(at)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
