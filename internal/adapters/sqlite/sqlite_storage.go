// Package sqlite persists C2's deposit-event cache and C5's signing-key
// event history in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/lidofinance/guardian-daemon/internal/application/domain"
)

// Store implements ports.DepositEventStore and ports.SigningKeyEventStore
// against a single SQLite database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite db: %w", err)
	}
	return &Store{DB: db}, nil
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS deposit_events (
			block_number INTEGER NOT NULL,
			log_index INTEGER NOT NULL,
			block_hash BLOB NOT NULL,
			pubkey BLOB NOT NULL,
			withdrawal_credentials BLOB NOT NULL,
			amount_gwei INTEGER NOT NULL,
			signature BLOB NOT NULL,
			deposit_count INTEGER NOT NULL,
			deposit_data_root BLOB NOT NULL,
			tx_hash BLOB NOT NULL,
			valid BOOLEAN NOT NULL,
			PRIMARY KEY (block_number, log_index)
		);`,
		`CREATE TABLE IF NOT EXISTS deposit_events_header (
			key TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS deposit_events_last_valid (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			block_number INTEGER NOT NULL,
			log_index INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS signing_key_events (
			module_address BLOB NOT NULL,
			block_number INTEGER NOT NULL,
			log_index INTEGER NOT NULL,
			operator_index INTEGER NOT NULL,
			pubkey BLOB NOT NULL,
			PRIMARY KEY (module_address, block_number, log_index)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_deposit_events_block ON deposit_events(block_number);`,
		`CREATE INDEX IF NOT EXISTS idx_signing_key_events_module ON signing_key_events(module_address);`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// GetEventsCache returns the persisted deposit event cache, ordered by
// (blockNumber, logIndex); absent data yields DepositCacheDefault.
func (s *Store) GetEventsCache(ctx context.Context) (domain.DepositEventCache, error) {
	header := domain.CacheHeader{}
	row := s.DB.QueryRowContext(ctx, `SELECT value FROM deposit_events_header WHERE key = 'startBlock'`)
	if err := row.Scan(&header.StartBlock); err != nil && err != sql.ErrNoRows {
		return domain.DepositEventCache{}, err
	}
	row = s.DB.QueryRowContext(ctx, `SELECT value FROM deposit_events_header WHERE key = 'endBlock'`)
	if err := row.Scan(&header.EndBlock); err != nil && err != sql.ErrNoRows {
		return domain.DepositEventCache{}, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT block_number, log_index, block_hash, pubkey, withdrawal_credentials, amount_gwei,
		       signature, deposit_count, deposit_data_root, tx_hash, valid
		FROM deposit_events ORDER BY block_number, log_index`)
	if err != nil {
		return domain.DepositEventCache{}, err
	}
	defer rows.Close()

	var data []domain.VerifiedDepositEvent
	for rows.Next() {
		var e domain.VerifiedDepositEvent
		var blockHash, pubkey, wc, sig, root, tx []byte
		if err := rows.Scan(&e.BlockNumber, &e.LogIndex, &blockHash, &pubkey, &wc, &e.AmountGwei,
			&sig, &e.DepositCount, &root, &tx, &e.Valid); err != nil {
			return domain.DepositEventCache{}, err
		}
		e.BlockHash = common.BytesToHash(blockHash)
		copy(e.Pubkey[:], pubkey)
		copy(e.WithdrawalCredentials[:], wc)
		copy(e.Signature[:], sig)
		copy(e.DepositDataRoot[:], root)
		e.TxHash = common.BytesToHash(tx)
		data = append(data, e)
	}
	if err := rows.Err(); err != nil {
		return domain.DepositEventCache{}, err
	}

	cache := domain.DepositEventCache{Headers: header, Data: data}

	var lastBlock, lastLog uint64
	row = s.DB.QueryRowContext(ctx, `SELECT block_number, log_index FROM deposit_events_last_valid WHERE id = 0`)
	if err := row.Scan(&lastBlock, &lastLog); err == nil {
		for i := range data {
			if data[i].BlockNumber == lastBlock && uint64(data[i].LogIndex) == lastLog {
				cache.LastValidEvent = &data[i]
				break
			}
		}
	} else if err != sql.ErrNoRows {
		return domain.DepositEventCache{}, err
	}

	if cache.Headers.StartBlock == 0 && cache.Headers.EndBlock == 0 && len(cache.Data) == 0 {
		return domain.DepositCacheDefault(), nil
	}
	return cache, nil
}

// InsertEventsCacheBatch atomically appends a batch of events and advances
// the header.
func (s *Store) InsertEventsCacheBatch(ctx context.Context, header domain.CacheHeader, events []domain.VerifiedDepositEvent) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deposit_events (block_number, log_index, block_hash, pubkey, withdrawal_credentials,
			amount_gwei, signature, deposit_count, deposit_data_root, tx_hash, valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(block_number, log_index) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, e.BlockNumber, e.LogIndex, e.BlockHash.Bytes(), e.Pubkey[:], e.WithdrawalCredentials[:],
			e.AmountGwei, e.Signature[:], e.DepositCount, e.DepositDataRoot[:], e.TxHash.Bytes(), e.Valid); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO deposit_events_header (key, value) VALUES ('startBlock', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, header.StartBlock); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO deposit_events_header (key, value) VALUES ('endBlock', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, header.EndBlock); err != nil {
		return err
	}

	return tx.Commit()
}

// SetLastValidEvent records the most recent event the integrity checker
// confirmed against the deposit contract's root.
func (s *Store) SetLastValidEvent(ctx context.Context, event domain.VerifiedDepositEvent) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO deposit_events_last_valid (id, block_number, log_index) VALUES (0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET block_number = excluded.block_number, log_index = excluded.log_index`,
		event.BlockNumber, event.LogIndex)
	return err
}

// GetSigningKeyEvents returns a module's persisted SigningKeyAdded history.
func (s *Store) GetSigningKeyEvents(ctx context.Context, module common.Address) ([]domain.SigningKeyAddedEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT block_number, log_index, operator_index, pubkey FROM signing_key_events
		WHERE module_address = ? ORDER BY block_number, log_index`, module.Bytes())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.SigningKeyAddedEvent
	for rows.Next() {
		e := domain.SigningKeyAddedEvent{ModuleAddress: module}
		var pubkey []byte
		if err := rows.Scan(&e.BlockNumber, &e.LogIndex, &e.OperatorIndex, &pubkey); err != nil {
			return nil, err
		}
		copy(e.Pubkey[:], pubkey)
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertSigningKeyEvents appends a module's fresh SigningKeyAdded events.
func (s *Store) InsertSigningKeyEvents(ctx context.Context, module common.Address, events []domain.SigningKeyAddedEvent) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signing_key_events (module_address, block_number, log_index, operator_index, pubkey)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT(module_address, block_number, log_index) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx, module.Bytes(), e.BlockNumber, e.LogIndex, e.OperatorIndex, e.Pubkey[:]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// KnownModules returns every module address with at least one persisted
// SigningKeyAdded event.
func (s *Store) KnownModules(ctx context.Context) ([]common.Address, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT module_address FROM signing_key_events`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var modules []common.Address
	for rows.Next() {
		var addr []byte
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		modules = append(modules, common.BytesToAddress(addr))
	}
	return modules, rows.Err()
}
