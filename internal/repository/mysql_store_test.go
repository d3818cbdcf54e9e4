package repository

import (
	"database/sql"
	"testing"
)

func TestMySQLTransactionsReadCommitted(t *testing.T) {
	if txOptions == nil || txOptions.Isolation != sql.LevelReadCommitted {
		t.Fatalf("transactions must run at READ COMMITTED, got %+v", txOptions)
	}
	if txOptions.ReadOnly {
		t.Fatal("transactions must be writable")
	}
}
