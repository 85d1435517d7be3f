package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martin-labs/diamondctl/pkg/diamond"
	"github.com/martin-labs/diamondctl/pkg/ledger"
)

var sepolia = ledger.Context{Network: "sepolia", Environment: ledger.Production}

func rec(addr string) ledger.DeploymentRecord {
	return ledger.DeploymentRecord{
		Address:         diamond.Address("0x" + addr),
		OptimizerRuns:   "600",
		Timestamp:       "2024-03-01 12:00:00",
		ConstructorArgs: "0x",
	}
}

func newSQLite(t *testing.T) (*SQLHistory, *sql.DB) {
	t.Helper()
	db, err := Open(SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h := NewSQLHistory(db, SQLite)
	require.NoError(t, h.Migrate(context.Background()))
	return h, db
}

func TestSQLiteHistory_AppendAndRead(t *testing.T) {
	ctx := context.Background()
	h, _ := newSQLite(t)

	a := rec("5fbdb2315678afecb367f032d93f642f64180aa3")
	b := rec("e7f1725e7734ce288f8367e1bb143e90bb3f0512")
	b.Verified = true
	require.NoError(t, h.Append(ctx, sepolia, "DepositFacet", "1.0.0", a))
	require.NoError(t, h.Append(ctx, sepolia, "DepositFacet", "1.0.0", b))
	require.NoError(t, h.Append(ctx, sepolia, "DepositFacet", "1.1.0", a))
	require.NoError(t, h.Append(ctx, ledger.Context{Network: "sepolia", Environment: ledger.Staging}, "DepositFacet", "1.0.0", a))

	got, err := h.History(ctx, sepolia, "DepositFacet")
	require.NoError(t, err)
	assert.Equal(t, []ledger.DeploymentRecord{a, b}, got["1.0.0"])
	assert.Equal(t, []ledger.DeploymentRecord{a}, got["1.1.0"])

	require.NoError(t, h.Verify(ctx, sepolia, "DepositFacet"))
}

func TestSQLiteHistory_DetectsRewrite(t *testing.T) {
	ctx := context.Background()
	h, db := newSQLite(t)

	require.NoError(t, h.Append(ctx, sepolia, "MToken", "1.0.0", rec("5fbdb2315678afecb367f032d93f642f64180aa3")))
	require.NoError(t, h.Append(ctx, sepolia, "MToken", "1.0.1", rec("e7f1725e7734ce288f8367e1bb143e90bb3f0512")))

	_, err := db.ExecContext(ctx, `UPDATE deployment_records SET verified = 1 WHERE seq = 1`)
	require.NoError(t, err)
	assert.ErrorIs(t, h.Verify(ctx, sepolia, "MToken"), ErrChainBroken)
}

func TestSQLiteHistory_Modules(t *testing.T) {
	ctx := context.Background()
	h, _ := newSQLite(t)

	require.NoError(t, h.Append(ctx, sepolia, "MToken", "1.0.0", rec("5fbdb2315678afecb367f032d93f642f64180aa3")))
	require.NoError(t, h.Append(ctx, sepolia, "DepositFacet", "1.0.0", rec("e7f1725e7734ce288f8367e1bb143e90bb3f0512")))
	require.NoError(t, h.Append(ctx, sepolia, "MToken", "1.0.1", rec("e7f1725e7734ce288f8367e1bb143e90bb3f0512")))
	require.NoError(t, h.Append(ctx, ledger.Context{Network: "sepolia", Environment: ledger.Staging}, "BorrowFacet", "1.0.0", rec("5fbdb2315678afecb367f032d93f642f64180aa3")))

	mods, err := h.Modules(ctx, sepolia)
	require.NoError(t, err)
	assert.Equal(t, []string{"DepositFacet", "MToken"}, mods)
}

func TestSQLiteHistory_BacksLedger(t *testing.T) {
	ctx := context.Background()
	h, _ := newSQLite(t)
	l := ledger.New(t.TempDir(), ledger.WithHistoryStore(h))

	require.NoError(t, l.RecordDeployment(ctx, sepolia, "MToken", "1.0.0", rec("5fbdb2315678afecb367f032d93f642f64180aa3")))
	vs, err := l.Versions(ctx, sepolia, "MToken")
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, vs)
	assert.Len(t, l.Files(sepolia), 2)
}

func TestPostgresHistory_Append(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	h := NewSQLHistory(db, Postgres)
	r := rec("5fbdb2315678afecb367f032d93f642f64180aa3")

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, content_hash FROM deployment_records\s+WHERE module = \$1 AND network = \$2 AND environment = \$3`).
		WithArgs("MToken", "sepolia", "production").
		WillReturnRows(sqlmock.NewRows([]string{"seq", "content_hash"}).AddRow(int64(3), "abc"))
	mock.ExpectExec(`INSERT INTO deployment_records`).
		WithArgs("MToken", "sepolia", "production", int64(4), "1.0.0",
			string(r.Address), "600", r.Timestamp, "0x", false, "abc", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, h.Append(context.Background(), sepolia, "MToken", "1.0.0", r))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresHistory_InsertFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	h := NewSQLHistory(db, Postgres)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, content_hash`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "content_hash"}))
	mock.ExpectExec(`INSERT INTO deployment_records`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = h.Append(context.Background(), sepolia, "MToken", "1.0.0", rec("5fbdb2315678afecb367f032d93f642f64180aa3"))
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("postgres")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)
	_, err = ParseDialect("mysql")
	assert.Error(t, err)

	h := NewSQLHistory(nil, Postgres)
	assert.Equal(t, "a = $1 AND b = $2", h.rebind("a = ? AND b = ?"))
}
