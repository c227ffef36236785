package store

import (
	"database/sql"
	"errors"
)

// ReadCursor returns the last processed block and timestamp, or ok=false if
// the indexer has never advanced the cursor (a fresh database).
func (s *Store) ReadCursor() (block uint64, timestamp *uint64, ok bool, err error) {
	return s.readCursorLocked(s.db)
}

// UpdateSync advances the cursor to block/timestamp if block is greater than
// (or equal to, to allow idempotent retries at the same block) the current
// cursor. The cursor never moves backwards (spec §4.3 monotonicity guard).
func (s *Store) UpdateSync(block uint64, timestamp *uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.updateSyncLocked(s.db, block, timestamp)
}

func (s *Store) updateSyncLocked(exec queryExecer, block uint64, timestamp *uint64) error {
	current, _, ok, err := s.readCursorLocked(exec)
	if err != nil {
		return err
	}
	if ok && block < current {
		return nil
	}
	_, err = exec.Exec(
		`INSERT INTO sync_state (id, last_processed_block, last_processed_timestamp, updated_at)
		 VALUES (1, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(id) DO UPDATE SET
			last_processed_block = excluded.last_processed_block,
			last_processed_timestamp = excluded.last_processed_timestamp,
			updated_at = excluded.updated_at`,
		block, timestamp,
	)
	if err != nil {
		return &StoreError{Op: "update sync", Err: err}
	}
	return nil
}

func (s *Store) readCursorLocked(q queryExecer) (uint64, *uint64, bool, error) {
	row := q.QueryRow(`SELECT last_processed_block, last_processed_timestamp FROM sync_state WHERE id = 1`)
	var block uint64
	var ts *uint64
	if err := row.Scan(&block, &ts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil, false, nil
		}
		return 0, nil, false, &StoreError{Op: "read cursor", Err: err}
	}
	return block, ts, true, nil
}
