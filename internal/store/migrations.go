package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Saved ROI configurations, config stored in wire format
		`CREATE TABLE IF NOT EXISTS roi_revisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			config TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_roi_revisions_saved_at ON roi_revisions(saved_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}
	return nil
}
