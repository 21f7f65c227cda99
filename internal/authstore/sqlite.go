// Package authstore implements SQLiteOwnership (§4.7's
// expansion): a database/sql-backed mutation.Authorizer answering "is
// this connection the recorded owner of this entity, or does it hold
// the wildcard grant". Grants are not part of the synced component
// stream — they exist purely to answer authorization questions and
// survive restarts the same way the teacher's internal/opstate store
// persists operational state.
package authstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/entitysync/internal/mutation"
)

// DriverSQLite3 is the production driver name, registered by the cgo
// mattn/go-sqlite3 import above.
const DriverSQLite3 = "sqlite3"

// SQLiteOwnership is a persisted ownership grant table. It satisfies
// mutation.Authorizer: Authorize consults the grants table and fails
// closed (returns false) on any query error, the same posture as
// mutation.ServerOnly.
type SQLiteOwnership struct {
	db *sql.DB
}

// Open creates or opens an ownership store at dbPath using the default
// production driver. Use OpenWithDriver in tests to swap in a pure-Go
// driver such as modernc.org/sqlite, which registers itself as
// "sqlite" and needs no cgo toolchain.
func Open(dbPath string) (*SQLiteOwnership, error) {
	return OpenWithDriver(DriverSQLite3, dbPath)
}

// OpenWithDriver is Open with an explicit database/sql driver name.
func OpenWithDriver(driverName, dbPath string) (*SQLiteOwnership, error) {
	db, err := sql.Open(driverName, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open ownership store: %w", err)
	}

	s := &SQLiteOwnership{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate ownership store: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteOwnership) Close() error {
	return s.db.Close()
}

func (s *SQLiteOwnership) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entity_owners (
		connection_id INTEGER NOT NULL,
		entity_bits   INTEGER NOT NULL,
		granted_at    TEXT NOT NULL,
		PRIMARY KEY (connection_id, entity_bits)
	);
	CREATE TABLE IF NOT EXISTS wildcard_grants (
		connection_id INTEGER PRIMARY KEY,
		granted_at    TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Grant records connectionID as the owner of entity.
func (s *SQLiteOwnership) Grant(connectionID uint32, entityBits uint64) error {
	_, err := s.db.Exec(
		`INSERT INTO entity_owners (connection_id, entity_bits, granted_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (connection_id, entity_bits) DO UPDATE SET granted_at = excluded.granted_at`,
		connectionID, entityBits, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("grant %d/%d: %w", connectionID, entityBits, err)
	}
	return nil
}

// Revoke removes connectionID's ownership of entity, if any.
func (s *SQLiteOwnership) Revoke(connectionID uint32, entityBits uint64) error {
	_, err := s.db.Exec(
		`DELETE FROM entity_owners WHERE connection_id = ? AND entity_bits = ?`,
		connectionID, entityBits,
	)
	if err != nil {
		return fmt.Errorf("revoke %d/%d: %w", connectionID, entityBits, err)
	}
	return nil
}

// GrantWildcard marks connectionID as allowed to mutate any entity.
func (s *SQLiteOwnership) GrantWildcard(connectionID uint32) error {
	_, err := s.db.Exec(
		`INSERT INTO wildcard_grants (connection_id, granted_at)
		 VALUES (?, ?)
		 ON CONFLICT (connection_id) DO UPDATE SET granted_at = excluded.granted_at`,
		connectionID, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("grant wildcard %d: %w", connectionID, err)
	}
	return nil
}

// RevokeWildcard removes connectionID's wildcard grant, if any.
func (s *SQLiteOwnership) RevokeWildcard(connectionID uint32) error {
	_, err := s.db.Exec(`DELETE FROM wildcard_grants WHERE connection_id = ?`, connectionID)
	if err != nil {
		return fmt.Errorf("revoke wildcard %d: %w", connectionID, err)
	}
	return nil
}

// Authorize implements mutation.Authorizer. A query error fails closed.
func (s *SQLiteOwnership) Authorize(ctx mutation.AuthContext) bool {
	connectionID := uint32(ctx.Connection)

	var wildcard int
	err := s.db.QueryRow(
		`SELECT 1 FROM wildcard_grants WHERE connection_id = ?`, connectionID,
	).Scan(&wildcard)
	if err == nil {
		return true
	}
	if err != sql.ErrNoRows {
		return false
	}

	var owned int
	err = s.db.QueryRow(
		`SELECT 1 FROM entity_owners WHERE connection_id = ? AND entity_bits = ?`,
		connectionID, ctx.Entity.Bits,
	).Scan(&owned)
	if err == sql.ErrNoRows {
		return false
	}
	return err == nil
}
