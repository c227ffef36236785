package store

import (
	"database/sql"
	"errors"
)

// StoredEvent is an event row as read back for replay or querying, with the
// decoded_args JSON left for the caller to unmarshal (the state reconstructor
// and the CLI want different shapes).
type StoredEvent struct {
	BlockNumber      uint64
	BlockTimestamp   *uint64
	TransactionHash  string
	TransactionIndex uint32
	LogIndex         uint32
	ContractAddress  string
	EventName        string
	EventSignature   *string
	DecodedArgs      string
}

// IterEvents returns every stored event with block_number <= uptoBlock,
// ordered (block_number ASC, log_index ASC) as required by the deterministic
// replay in spec §6.
func (s *Store) IterEvents(uptoBlock uint64) ([]StoredEvent, error) {
	rows, err := s.db.Query(
		`SELECT block_number, block_timestamp, transaction_hash, transaction_index,
			log_index, contract_address, event_name, event_signature, decoded_args
		 FROM events
		 WHERE block_number <= ?
		 ORDER BY block_number ASC, log_index ASC`,
		uptoBlock,
	)
	if err != nil {
		return nil, &StoreError{Op: "iter events", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryEvents returns stored events, most recent first, optionally filtered
// by contract address and/or event name and capped at limit rows (spec §4.6
// "events" query surface). limit <= 0 means no cap.
func (s *Store) QueryEvents(contractAddress, eventName string, limit int) ([]StoredEvent, error) {
	query := `SELECT block_number, block_timestamp, transaction_hash, transaction_index,
		log_index, contract_address, event_name, event_signature, decoded_args
		FROM events WHERE 1=1`
	var args []interface{}
	if contractAddress != "" {
		query += ` AND contract_address = ?`
		args = append(args, contractAddress)
	}
	if eventName != "" {
		query += ` AND event_name = ?`
		args = append(args, eventName)
	}
	query += ` ORDER BY block_number DESC, log_index DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, &StoreError{Op: "query events", Err: err}
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}) ([]StoredEvent, error) {
	var out []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.BlockNumber, &e.BlockTimestamp, &e.TransactionHash, &e.TransactionIndex,
			&e.LogIndex, &e.ContractAddress, &e.EventName, &e.EventSignature, &e.DecodedArgs); err != nil {
			return nil, &StoreError{Op: "scan event", Err: err}
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "iterate events", Err: err}
	}
	return out, nil
}

// UpsertContract records (or refreshes) a watched contract's catalog entry.
// Satisfies registry.CatalogStore.
func (s *Store) UpsertContract(address, name, abiHash string, deployedBlock *uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO contracts (address, name, abi_hash, deployed_block)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET
			name = excluded.name,
			abi_hash = excluded.abi_hash,
			deployed_block = excluded.deployed_block`,
		address, name, abiHash, deployedBlock,
	)
	if err != nil {
		return &StoreError{Op: "upsert contract", Err: err}
	}
	return nil
}

// ResolveContractAddress looks up a watched contract's lower-case address
// by its catalog name (case-insensitive), for CLI surfaces that accept
// NAME_OR_ADDR (spec §6). ok is false if no catalog entry matches.
func (s *Store) ResolveContractAddress(name string) (string, bool, error) {
	var address string
	err := s.db.QueryRow(`SELECT address FROM contracts WHERE name = ? COLLATE NOCASE`, name).Scan(&address)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StoreError{Op: "resolve contract address", Err: err}
	}
	return address, true, nil
}
