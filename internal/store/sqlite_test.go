package store

import (
	"path/filepath"
	"testing"

	"broker-gateway/internal/config"
)

func TestNewSQLiteCreatesDirectoryAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "gateway.db")

	st, err := NewSQLite(config.DatabaseConfig{
		Path:         path,
		MaxOpenConns: 2,
		MaxIdleConns: 2,
	})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer st.Close()

	if st.DB() == nil {
		t.Fatalf("expected usable database handle")
	}
	if err := st.DB().Ping(); err != nil {
		t.Errorf("ping failed: %v", err)
	}

	var mode string
	if err := st.DB().QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		t.Fatalf("query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL mode, got %q", mode)
	}
}

func TestNewSQLiteInMemory(t *testing.T) {
	st, err := NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	defer st.Close()

	if _, err := st.DB().Exec("CREATE TABLE t (id INTEGER)"); err != nil {
		t.Errorf("exec on in-memory store failed: %v", err)
	}
}

func TestCloseIsIdempotentOnZeroStore(t *testing.T) {
	var st Store
	if err := st.Close(); err != nil {
		t.Errorf("closing zero store must be safe, got %v", err)
	}
}
