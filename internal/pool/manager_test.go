package pool

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
)

func testManager(t *testing.T, errs []error) (*Manager, *[]time.Duration, *int) {
	t.Helper()
	opened := 0
	sleeps := []time.Duration{}
	m := NewManager(Config{Host: "db1", User: "root", Database: "shop"}, Options{RetryAttempts: 3})
	m.open = func(dsn string) (*sql.DB, error) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("sqlmock: %v", err)
		}
		call := opened
		opened++
		if call < len(errs) && errs[call] != nil {
			mock.ExpectQuery("SELECT 1").WillReturnError(errs[call])
		} else {
			mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
		}
		return db, nil
	}
	m.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return m, &sleeps, &opened
}

func runQuery(m *Manager) error {
	return m.ExecuteWithRetry(context.Background(), "SELECT 1", nil, func(rows *sql.Rows) error {
		for rows.Next() {
			var n int
			if err := rows.Scan(&n); err != nil {
				return err
			}
		}
		return nil
	})
}

func TestExecuteWithRetryExhaustsAttempts(t *testing.T) {
	lost := &mysqldriver.MySQLError{Number: 2013, Message: "Lost connection to MySQL server during query"}
	m, sleeps, opened := testManager(t, []error{lost, lost, lost})

	err := runQuery(m)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var myErr *mysqldriver.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != 2013 {
		t.Fatalf("expected last mysql error, got %v", err)
	}
	if *opened != 3 {
		t.Fatalf("expected pool rebuilt per attempt, opened %d times", *opened)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), *sleeps)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Fatalf("sleep %d = %v, want %v", i, (*sleeps)[i], d)
		}
	}
}

func TestExecuteWithRetryRecovers(t *testing.T) {
	gone := &mysqldriver.MySQLError{Number: 2006, Message: "MySQL server has gone away"}
	m, sleeps, opened := testManager(t, []error{gone, nil})

	if err := runQuery(m); err != nil {
		t.Fatalf("expected recovery on second attempt: %v", err)
	}
	if *opened != 2 {
		t.Fatalf("opened %d times, want 2", *opened)
	}
	if len(*sleeps) != 1 || (*sleeps)[0] != 2*time.Second {
		t.Fatalf("sleeps = %v, want [2s]", *sleeps)
	}
}

func TestExecuteWithRetryNonRetryable(t *testing.T) {
	denied := &mysqldriver.MySQLError{Number: 1045, Message: "Access denied"}
	m, sleeps, opened := testManager(t, []error{denied})

	err := runQuery(m)
	var myErr *mysqldriver.MySQLError
	if !errors.As(err, &myErr) || myErr.Number != 1045 {
		t.Fatalf("expected access denied surfaced immediately, got %v", err)
	}
	if *opened != 1 {
		t.Fatalf("opened %d times, want 1", *opened)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no backoff, slept %v", *sleeps)
	}
}

func TestExecuteWithRetryHonorsCancellation(t *testing.T) {
	lost := &mysqldriver.MySQLError{Number: 2013}
	m, _, _ := testManager(t, []error{lost, lost, lost})
	ctx, cancel := context.WithCancel(context.Background())
	m.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := m.ExecuteWithRetry(ctx, "SELECT 1", nil, func(rows *sql.Rows) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, c := range cases {
		if got := backoff(c.attempt); got != c.want {
			t.Fatalf("backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"lost connection", &mysqldriver.MySQLError{Number: 2013}, true},
		{"cant connect", &mysqldriver.MySQLError{Number: 2003}, true},
		{"gone away", &mysqldriver.MySQLError{Number: 2006}, true},
		{"lost during query", &mysqldriver.MySQLError{Number: 2055}, true},
		{"access denied", &mysqldriver.MySQLError{Number: 1045}, false},
		{"syntax error", &mysqldriver.MySQLError{Number: 1064}, false},
		{"query timeout", context.DeadlineExceeded, true},
		{"invalid conn", mysqldriver.ErrInvalidConn, true},
		{"nil", nil, false},
	}
	for _, c := range cases {
		if got := isRetryable(c.err); got != c.want {
			t.Fatalf("%s: isRetryable = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestConfigKey(t *testing.T) {
	a := Config{Host: "db1", Port: 3306, User: "root", Database: "shop"}
	b := Config{Host: "db1", Port: 3306, User: "root", Database: "shop", Password: "other"}
	if a.Key() != b.Key() {
		t.Fatalf("key should ignore password: %s vs %s", a.Key(), b.Key())
	}
	c := Config{Host: "db2", Port: 3306, User: "root", Database: "shop"}
	if a.Key() == c.Key() {
		t.Fatalf("different hosts must not share a pool: %s", a.Key())
	}
}

func TestRegistrySharesPools(t *testing.T) {
	r := NewRegistry(Options{})
	cfg := Config{Host: "db1", User: "root", Database: "shop"}
	if r.Get(cfg) != r.Get(cfg) {
		t.Fatal("same config must return the same manager")
	}
	other := Config{Host: "db1", User: "root", Database: "crm"}
	if r.Get(cfg) == r.Get(other) {
		t.Fatal("different databases must not share a manager")
	}
}
