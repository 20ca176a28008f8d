package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// Mock-backed tests pin down the row-affected and error mapping contracts
// without a live database in the way.

func newMockSet(t *testing.T) (StoreSet, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLiteStoresFromDB(db), mock
}

func TestIncrementInteractions_NoRowMapsToNotFound(t *testing.T) {
	set, mock := newMockSet(t)
	mock.ExpectExec("UPDATE agents SET interaction_count").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := set.Agents.IncrementInteractions(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestFailRunning_ReportsAffectedRows(t *testing.T) {
	set, mock := newMockSet(t)
	mock.ExpectExec("UPDATE job_history SET status").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := set.Jobs.FailRunning(context.Background(), "Server restarted while job was running")
	if err != nil {
		t.Fatalf("fail running: %v", err)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAgentGet_PropagatesDatabaseError(t *testing.T) {
	set, mock := newMockSet(t)
	dbErr := errors.New("disk I/O error")
	mock.ExpectQuery("SELECT (.+) FROM agents WHERE id").
		WithArgs("agent-1").
		WillReturnError(dbErr)

	_, err := set.Agents.Get(context.Background(), "agent-1")
	if !errors.Is(err, dbErr) {
		t.Fatalf("err = %v, want the database error", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Fatal("a database fault must not read as a missing row")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
