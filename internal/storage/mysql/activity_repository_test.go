package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	gomysql "github.com/go-sql-driver/mysql"

	xerrors "ParaWallet-Chain/internal/errors"
	"ParaWallet-Chain/internal/storage"
)

func TestMemoryActivityRepositoryRestoresFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryActivityRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	for i, kind := range []storage.ActivityKind{storage.ActivityWalletCreated, storage.ActivityMessageSigned, storage.ActivityTransactionConfirmed} {
		record := storage.NewActivity(kind, "w-1")
		record.CreatedAt = int64(i + 1)
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	latest, err := repo.ListLatest(ctx, 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(latest) != 2 || latest[0].Kind != storage.ActivityTransactionConfirmed {
		t.Fatalf("unexpected list result: %+v", latest)
	}

	reopened, err := NewMemoryActivityRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	all, _ := reopened.ListLatest(ctx, 0)
	if len(all) != 3 || all[2].Kind != storage.ActivityWalletCreated {
		t.Fatalf("records not restored in order: %+v", all)
	}
}

func TestSQLActivityRepositorySave(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertActivitySQL, mockResult{rowsAffected: 1}),
		{typ: opExec, query: insertActivitySQL, err: &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}},
		{typ: opExec, query: insertActivitySQL, err: &gomysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}},
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLActivityRepository{db: db}
	record := storage.ActivityRecord{ID: "a-1", Kind: storage.ActivityMessageSigned, WalletID: "w-1", CreatedAt: 1}
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("duplicate ids should be ignored: %v", err)
	}
	if err := repo.Save(context.Background(), record); !xerrors.HasCode(err, xerrors.CodeStorageFailure) {
		t.Fatalf("expected STORAGE_FAILURE, got %v", err)
	}
}

func TestSQLActivityRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "kind", "wallet_id", "chain_id", "tx_hash", "status", "detail", "created_at"},
		values: [][]driver.Value{
			{"a-2", "transaction.confirmed", "w-1", "137", "0xabc", "success", nil, int64(20)},
			{"a-1", "wallet.created", "w-1", "", "", "", "EVM", int64(10)},
		},
	}

	db, driver := newMockDB(t, []mockOperation{queryOp(listActivitySQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLActivityRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].TxHash != "0xabc" || list[0].Detail != "" || list[1].Detail != "EVM" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[0].Kind != storage.ActivityTransactionConfirmed {
		t.Fatalf("unexpected kind %s", list[0].Kind)
	}
}

func TestSQLActivityRepositoryRunMigrations(t *testing.T) {
	t.Parallel()

	pending := readMigrationStatements(t, "0002_index_wallet_activity_tx.sql")
	ops := []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
		beginOp(),
	}
	for _, stmt := range pending {
		ops = append(ops, execOp(stmt, mockResult{}))
	}
	ops = append(ops,
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	)

	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLActivityRepository{db: db}
	if err := repo.runMigrations(context.Background()); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestMigrationFailureRollsBack(t *testing.T) {
	t.Parallel()

	first := readMigrationStatements(t, "0001_create_wallet_activity.sql")
	db, driver := newMockDB(t, []mockOperation{
		execOp(createMigrationsTableSQL, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		{typ: opExec, query: first[0], err: fmt.Errorf("syntax error")},
		rollbackOp(),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLActivityRepository{db: db}
	if err := repo.runMigrations(context.Background()); err == nil {
		t.Fatalf("expected migration error")
	}
}

func TestNormalizeDSN(t *testing.T) {
	if _, err := normalizeDSN(" "); err == nil {
		t.Fatalf("empty dsn should fail")
	}
	dsn, err := normalizeDSN("user:pass@tcp(127.0.0.1:3306)/walletd")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if !strings.Contains(dsn, "timeout=5s") {
		t.Fatalf("default timeout missing from %q", dsn)
	}
	if _, err := normalizeDSN("not a dsn"); err == nil {
		t.Fatalf("invalid dsn should fail")
	}
}

func readMigrationStatements(t *testing.T, file string) []string {
	t.Helper()
	content, err := embeddedMigrations.ReadFile(file)
	if err != nil {
		t.Fatalf("failed to read migration: %v", err)
	}
	statements := splitStatements(string(content))
	if len(statements) == 0 {
		t.Fatalf("no statements in %s", file)
	}
	return statements
}
type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
