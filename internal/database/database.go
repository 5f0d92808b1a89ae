package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// ErrServerNotFound is returned when no game server has the requested ID.
var ErrServerNotFound = errors.New("game server not found")

func Init(dbPath string) error {
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}

	if err := DB.AutoMigrate(&GameServer{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetServer loads a game server by ID.
func GetServer(id string) (*GameServer, error) {
	var srv GameServer
	err := DB.Where("id = ?", id).First(&srv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrServerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load game server %s: %w", id, err)
	}
	return &srv, nil
}

// ListServers returns all game servers ordered by name.
func ListServers() ([]GameServer, error) {
	var servers []GameServer
	if err := DB.Order("name").Find(&servers).Error; err != nil {
		return nil, fmt.Errorf("list game servers: %w", err)
	}
	return servers, nil
}

// UpsertServer inserts srv or, when a row with the same ID exists, updates
// its connection details and status.
func UpsertServer(srv *GameServer) error {
	err := DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "hostname", "ip_address", "ssh_port", "ssh_user", "status", "updated_at"}),
	}).Create(srv).Error
	if err != nil {
		return fmt.Errorf("upsert game server %s: %w", srv.ID, err)
	}
	return nil
}

// SetServerStatus updates the lifecycle status of a game server.
func SetServerStatus(id, status string) error {
	res := DB.Model(&GameServer{}).Where("id = ?", id).Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("set status of game server %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrServerNotFound
	}
	return nil
}
