// Package store provides SQL backends for the deployment history. Rows are
// only ever inserted; each row carries the hash of its predecessor for the
// same module partition so rewrites are detectable.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
)

// ErrChainBroken is returned by Verify when a row does not link to its
// predecessor.
var ErrChainBroken = errors.New("store: history hash chain broken")

// Dialect selects placeholder syntax.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// ParseDialect maps a LEDGER_BACKEND value to a dialect.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "sqlite":
		return SQLite, nil
	case "postgres":
		return Postgres, nil
	default:
		return SQLite, fmt.Errorf("store: unknown backend %q", s)
	}
}

func (d Dialect) driver() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// Open connects to dsn with the driver of d.
func Open(d Dialect, dsn string) (*sql.DB, error) {
	db, err := sql.Open(d.driver(), dsn)
	if err != nil {
		return nil, err
	}
	if d == SQLite {
		// One writer; also keeps :memory: databases on a single connection.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

const genesis = "genesis"

const schema = `
CREATE TABLE IF NOT EXISTS deployment_records (
	module TEXT NOT NULL,
	network TEXT NOT NULL,
	environment TEXT NOT NULL,
	seq INTEGER NOT NULL,
	version TEXT NOT NULL,
	address TEXT NOT NULL,
	optimizer_runs TEXT NOT NULL,
	recorded_at TEXT NOT NULL,
	constructor_args TEXT NOT NULL,
	verified BOOLEAN NOT NULL,
	prev_hash TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	PRIMARY KEY (module, network, environment, seq)
);`

// SQLHistory implements ledger.HistoryStore over database/sql.
type SQLHistory struct {
	db      *sql.DB
	dialect Dialect
}

var _ ledger.HistoryStore = (*SQLHistory)(nil)

// NewSQLHistory wraps db. Call Migrate before first use.
func NewSQLHistory(db *sql.DB, d Dialect) *SQLHistory {
	return &SQLHistory{db: db, dialect: d}
}

// Migrate creates the table if it does not exist.
func (s *SQLHistory) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// rebind rewrites ? placeholders for the dialect.
func (s *SQLHistory) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type row struct {
	Module  string                  `json:"module"`
	Network string                  `json:"network"`
	Env     ledger.Environment      `json:"environment"`
	Seq     int64                   `json:"seq"`
	Version string                  `json:"version"`
	Record  ledger.DeploymentRecord `json:"record"`
	Prev    string                  `json:"prev"`
}

func (r row) hash() (string, error) {
	c, err := ledger.Canonical(r)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(c)
	return hex.EncodeToString(sum[:]), nil
}

// Append inserts rec after the last row of its partition.
func (s *SQLHistory) Append(ctx context.Context, lctx ledger.Context, name, version string, rec ledger.DeploymentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var (
		seq  int64
		prev = genesis
	)
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT seq, content_hash FROM deployment_records
		WHERE module = ? AND network = ? AND environment = ?
		ORDER BY seq DESC LIMIT 1`),
		name, lctx.Network, string(lctx.Environment),
	).Scan(&seq, &prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: read chain head: %w", err)
	}

	r := row{
		Module:  name,
		Network: lctx.Network,
		Env:     lctx.Environment,
		Seq:     seq + 1,
		Version: version,
		Record:  rec,
		Prev:    prev,
	}
	h, err := r.hash()
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(
		`INSERT INTO deployment_records
		(module, network, environment, seq, version, address, optimizer_runs, recorded_at, constructor_args, verified, prev_hash, content_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		name, lctx.Network, string(lctx.Environment), r.Seq, version,
		string(rec.Address), rec.OptimizerRuns, rec.Timestamp, rec.ConstructorArgs, bool(rec.Verified),
		prev, h,
	)
	if err != nil {
		return fmt.Errorf("store: insert record: %w", err)
	}
	return tx.Commit()
}

func (s *SQLHistory) rows(ctx context.Context, lctx ledger.Context, name string) ([]row, []string, error) {
	rs, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT seq, version, address, optimizer_runs, recorded_at, constructor_args, verified, prev_hash, content_hash
		FROM deployment_records
		WHERE module = ? AND network = ? AND environment = ?
		ORDER BY seq`),
		name, lctx.Network, string(lctx.Environment),
	)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rs.Close() }()

	var (
		out    []row
		hashes []string
	)
	for rs.Next() {
		r := row{Module: name, Network: lctx.Network, Env: lctx.Environment}
		var (
			addr     string
			verified bool
			h        string
		)
		if err := rs.Scan(&r.Seq, &r.Version, &addr, &r.Record.OptimizerRuns, &r.Record.Timestamp,
			&r.Record.ConstructorArgs, &verified, &r.Prev, &h); err != nil {
			return nil, nil, err
		}
		r.Record.Address = diamond.Address(addr)
		r.Record.Verified = ledger.Verified(verified)
		out = append(out, r)
		hashes = append(hashes, h)
	}
	return out, hashes, rs.Err()
}

// History returns the records of name in lctx keyed by version, in insertion
// order.
func (s *SQLHistory) History(ctx context.Context, lctx ledger.Context, name string) (map[string][]ledger.DeploymentRecord, error) {
	rows, _, err := s.rows(ctx, lctx, name)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]ledger.DeploymentRecord)
	for _, r := range rows {
		out[r.Version] = append(out[r.Version], r.Record)
	}
	return out, nil
}

// Modules lists the modules with history in lctx.
func (s *SQLHistory) Modules(ctx context.Context, lctx ledger.Context) ([]string, error) {
	rs, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT DISTINCT module FROM deployment_records
		WHERE network = ? AND environment = ?
		ORDER BY module`),
		lctx.Network, string(lctx.Environment),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rs.Close() }()

	var out []string
	for rs.Next() {
		var m string
		if err := rs.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rs.Err()
}

// Verify recomputes the hash chain of name in lctx.
func (s *SQLHistory) Verify(ctx context.Context, lctx ledger.Context, name string) error {
	rows, hashes, err := s.rows(ctx, lctx, name)
	if err != nil {
		return err
	}
	prev := genesis
	for i, r := range rows {
		if r.Prev != prev {
			return fmt.Errorf("%w: %s seq %d", ErrChainBroken, name, r.Seq)
		}
		h, err := r.hash()
		if err != nil {
			return err
		}
		if h != hashes[i] {
			return fmt.Errorf("%w: %s seq %d content", ErrChainBroken, name, r.Seq)
		}
		prev = h
	}
	return nil
}
