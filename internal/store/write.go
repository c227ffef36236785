package store

import (
	"database/sql"
	"fmt"
)

// StoreError wraps a failed store operation (spec §7). A failed batch write
// rolls back whole: fatal for the batch in progress, recoverable at the next
// attempt.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// InsertEvent inserts a single decoded event record. Idempotent on
// (transaction_hash, log_index): a conflicting insert is silently ignored and
// reports inserted=false so callers can skip the matching indexed-args write.
func (s *Store) InsertEvent(rec EventRecord) (inserted bool, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertEventLocked(s.db, rec)
}

func (s *Store) insertEventLocked(exec execer, rec EventRecord) (bool, error) {
	res, err := exec.Exec(
		`INSERT INTO events (
			block_number, block_timestamp, transaction_hash, transaction_index,
			log_index, contract_address, event_name, event_signature, raw_data, decoded_args
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transaction_hash, log_index) DO NOTHING`,
		rec.BlockNumber, rec.BlockTimestamp, rec.TransactionHash, rec.TransactionIndex,
		rec.LogIndex, rec.ContractAddress, rec.EventName, rec.EventSignature, rec.RawData, rec.DecodedArgs,
	)
	if err != nil {
		return false, &StoreError{Op: "insert event", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &StoreError{Op: "insert event rows affected", Err: err}
	}
	return n > 0, nil
}

// InsertIndexedArgs writes the secondary event_indexed_args rows for one
// event. Safe to call only after InsertEvent reported inserted=true.
func (s *Store) InsertIndexedArgs(txHash string, logIndex uint32, contractAddress, eventName string, blockNumber uint64, args []IndexedArg) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertIndexedArgsLocked(s.db, txHash, logIndex, contractAddress, eventName, blockNumber, args)
}

func (s *Store) insertIndexedArgsLocked(exec execer, txHash string, logIndex uint32, contractAddress, eventName string, blockNumber uint64, args []IndexedArg) error {
	for _, a := range args {
		_, err := exec.Exec(
			`INSERT INTO event_indexed_args (
				transaction_hash, log_index, arg_name, arg_value, contract_address, event_name, block_number
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(transaction_hash, log_index, arg_name) DO NOTHING`,
			txHash, logIndex, a.ArgName, a.ArgValue, contractAddress, eventName, blockNumber,
		)
		if err != nil {
			return &StoreError{Op: "insert indexed args", Err: err}
		}
	}
	return nil
}

// DeleteLog removes a previously persisted log and its indexed args, used
// when a reorg revokes it (spec §4.5 step 2, "removed": true).
func (s *Store) DeleteLog(txHash string, logIndex uint32) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "delete log begin", Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM events WHERE transaction_hash = ? AND log_index = ?`, txHash, logIndex); err != nil {
		return &StoreError{Op: "delete log", Err: err}
	}
	if _, err := tx.Exec(`DELETE FROM event_indexed_args WHERE transaction_hash = ? AND log_index = ?`, txHash, logIndex); err != nil {
		return &StoreError{Op: "delete indexed args", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "delete log commit", Err: err}
	}
	return nil
}

// BatchRecord pairs an event with its indexed args for an atomic batch write.
type BatchRecord struct {
	Event       EventRecord
	IndexedArgs []IndexedArg
}

// WriteBatch persists a set of decoded events (and their indexed args) and
// advances the sync cursor to (throughBlock, throughTimestamp) atomically:
// either the whole batch and the cursor move land, or neither does (spec
// §4.3, §4.4 backfill_range). Duplicate events (matching transaction_hash,
// log_index already stored) are skipped silently.
func (s *Store) WriteBatch(records []BatchRecord, throughBlock uint64, throughTimestamp *uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &StoreError{Op: "batch begin", Err: err}
	}
	defer tx.Rollback()

	for _, r := range records {
		inserted, err := s.insertEventLocked(tx, r.Event)
		if err != nil {
			return err
		}
		if inserted && len(r.IndexedArgs) > 0 {
			if err := s.insertIndexedArgsLocked(tx, r.Event.TransactionHash, r.Event.LogIndex,
				r.Event.ContractAddress, r.Event.EventName, r.Event.BlockNumber, r.IndexedArgs); err != nil {
				return err
			}
		}
	}

	if err := s.updateSyncLocked(tx, throughBlock, throughTimestamp); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "batch commit", Err: err}
	}
	return nil
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// queryExecer adds QueryRow to execer; also satisfied by both *sql.DB and
// *sql.Tx, needed by the cursor read-modify-write in sync.go.
type queryExecer interface {
	execer
	QueryRow(query string, args ...interface{}) *sql.Row
}
