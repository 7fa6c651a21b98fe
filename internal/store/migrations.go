package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Sessions table - one row per detection session (a live capture
		// run or an upload batch).
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL CHECK(source IN ('live', 'upload')),
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			frame_count INTEGER NOT NULL DEFAULT 0,
			hand_count INTEGER NOT NULL DEFAULT 0
		)`,

		// Hands table - one row per detected hand, landmarks as JSON.
		`CREATE TABLE IF NOT EXISTS hands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			detected_at DATETIME NOT NULL,
			handedness TEXT NOT NULL DEFAULT '',
			score REAL NOT NULL,
			gesture TEXT NOT NULL DEFAULT '',
			gesture_confidence REAL NOT NULL DEFAULT 0,
			box_x REAL NOT NULL,
			box_y REAL NOT NULL,
			box_width REAL NOT NULL,
			box_height REAL NOT NULL,
			rotation REAL NOT NULL DEFAULT 0,
			landmarks TEXT NOT NULL DEFAULT '[]',
			world_landmarks TEXT NOT NULL DEFAULT '[]',
			image_width INTEGER NOT NULL,
			image_height INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_hands_session_id ON hands(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
