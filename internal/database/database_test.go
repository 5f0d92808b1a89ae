package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB points DB at an in-memory SQLite database for the test.
func setupTestDB(t *testing.T) {
	t.Helper()
	var err error
	DB, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	// Every pooled connection to :memory: would otherwise get its own database.
	if sqlDB, err := DB.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := DB.AutoMigrate(&GameServer{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() { Close() })
}

func TestInitCreatesDatabaseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pgsm.db")
	if err := Init(path); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	if !DB.Migrator().HasTable(&GameServer{}) {
		t.Error("expected game_servers table to exist")
	}
}

func TestGameServerDefaults(t *testing.T) {
	setupTestDB(t)

	srv := GameServer{ID: "srv-1", Name: "survival", IPAddress: "172.16.0.10"}
	if err := DB.Create(&srv).Error; err != nil {
		t.Fatalf("create: %v", err)
	}

	loaded, err := GetServer("srv-1")
	if err != nil {
		t.Fatalf("GetServer: %v", err)
	}
	if loaded.SSHPort != 22 {
		t.Errorf("SSHPort = %d, want 22", loaded.SSHPort)
	}
	if loaded.SSHUser != "root" {
		t.Errorf("SSHUser = %q, want root", loaded.SSHUser)
	}
	if loaded.Status != StatusCreating {
		t.Errorf("Status = %q, want %q", loaded.Status, StatusCreating)
	}
}

func TestGetServer_NotFound(t *testing.T) {
	setupTestDB(t)

	if _, err := GetServer("missing"); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}
}

func TestUpsertServer(t *testing.T) {
	setupTestDB(t)

	srv := &GameServer{ID: "srv-1", Name: "old", IPAddress: "172.16.0.10", SSHPort: 22, SSHUser: "root", Status: StatusStopped}
	if err := UpsertServer(srv); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	srv2 := &GameServer{ID: "srv-1", Name: "new", IPAddress: "172.16.0.11", SSHPort: 2222, SSHUser: "pgsm", Status: StatusRunning}
	if err := UpsertServer(srv2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	servers, err := ListServers()
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	if len(servers) != 1 {
		t.Fatalf("expected 1 server, got %d", len(servers))
	}
	got := servers[0]
	if got.Name != "new" || got.IPAddress != "172.16.0.11" || got.SSHPort != 2222 || got.SSHUser != "pgsm" || got.Status != StatusRunning {
		t.Errorf("upsert did not update row: %+v", got)
	}
}

func TestSetServerStatus(t *testing.T) {
	setupTestDB(t)

	DB.Create(&GameServer{ID: "srv-1", Name: "a", IPAddress: "10.0.0.1"})

	if err := SetServerStatus("srv-1", StatusRunning); err != nil {
		t.Fatalf("SetServerStatus: %v", err)
	}
	loaded, _ := GetServer("srv-1")
	if loaded.Status != StatusRunning {
		t.Errorf("Status = %q, want running", loaded.Status)
	}

	if err := SetServerStatus("missing", StatusRunning); !errors.Is(err, ErrServerNotFound) {
		t.Errorf("expected ErrServerNotFound, got %v", err)
	}
}

func TestListServers_OrderedByName(t *testing.T) {
	setupTestDB(t)

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		DB.Create(&GameServer{ID: name, Name: name, IPAddress: "10.0.0.1"})
	}

	servers, err := ListServers()
	if err != nil {
		t.Fatalf("ListServers: %v", err)
	}
	want := []string{"alpha", "bravo", "charlie"}
	for i, srv := range servers {
		if srv.Name != want[i] {
			t.Errorf("servers[%d] = %q, want %q", i, srv.Name, want[i])
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusCreating, StatusStopped, StatusRunning, StatusError} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	for _, s := range []string{"", "Running", "paused"} {
		if ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = true", s)
		}
	}
}
