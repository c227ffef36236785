// Package store implements LogStore: the durable, append-only persistence
// layer for decoded events, indexed arguments, the sync cursor, and the
// contract catalog (spec §4.3). It is backed by SQLite via modernc.org/sqlite,
// grounded on the pure-Go sqlite indexer in
// DanDo385-solidity-edu/geth/geth-17-indexer.
package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// EventRecord is one persisted decoded event (spec §3). BlockTimestamp and
// Signature and RawData are nullable in the schema, hence the pointer types.
type EventRecord struct {
	BlockNumber      uint64
	BlockTimestamp   *uint64
	TransactionHash  string
	TransactionIndex uint32
	LogIndex         uint32
	ContractAddress  string
	EventName        string
	EventSignature   *string
	RawData          *string
	DecodedArgs      string // JSON, ASCII-escaped
}

// IndexedArg is one row of the event_indexed_args secondary table.
type IndexedArg struct {
	ArgName  string
	ArgValue string
}

// Store is the concrete LogStore. All mutating methods take writeMu so
// writes are serialized store-wide, per spec §5 ("Single-writer with
// cooperative concurrency"). Decoding must happen outside the locked
// section; writeMu guards only the batch insert and cursor advance.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite + our own write lock: single writer, no pool contention

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			block_number INTEGER NOT NULL,
			block_timestamp INTEGER,
			transaction_hash TEXT NOT NULL,
			transaction_index INTEGER,
			log_index INTEGER NOT NULL,
			contract_address TEXT NOT NULL,
			event_name TEXT NOT NULL,
			event_signature TEXT,
			raw_data TEXT,
			decoded_args TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(transaction_hash, log_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_block ON events(block_number)`,
		`CREATE INDEX IF NOT EXISTS idx_events_contract ON events(contract_address)`,
		`CREATE INDEX IF NOT EXISTS idx_events_name ON events(event_name)`,
		`CREATE INDEX IF NOT EXISTS idx_events_contract_block ON events(contract_address, block_number)`,
		`CREATE TABLE IF NOT EXISTS sync_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			last_processed_block INTEGER NOT NULL,
			last_processed_timestamp INTEGER,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS contracts (
			address TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			abi_hash TEXT,
			deployed_block INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS event_indexed_args (
			transaction_hash TEXT NOT NULL,
			log_index INTEGER NOT NULL,
			arg_name TEXT NOT NULL,
			arg_value TEXT,
			contract_address TEXT,
			event_name TEXT,
			block_number INTEGER,
			PRIMARY KEY (transaction_hash, log_index, arg_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_indexed_args_name_value ON event_indexed_args(arg_name, arg_value)`,
		`CREATE INDEX IF NOT EXISTS idx_event_indexed_args_contract ON event_indexed_args(contract_address)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt, err)
		}
	}
	return nil
}
