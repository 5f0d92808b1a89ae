package database

import "time"

// Game server lifecycle states, as written by the provisioning pipeline.
const (
	StatusCreating = "creating"
	StatusStopped  = "stopped"
	StatusRunning  = "running"
	StatusError    = "error"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s string) bool {
	switch s {
	case StatusCreating, StatusStopped, StatusRunning, StatusError:
		return true
	}
	return false
}

type GameServer struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id" yaml:"id"`
	Name      string    `gorm:"not null;size:128" json:"name" yaml:"name"`
	Hostname  string    `gorm:"size:128" json:"hostname" yaml:"hostname"`
	IPAddress string    `gorm:"not null;size:45" json:"ip_address" yaml:"ip_address"`
	SSHPort   int       `gorm:"not null;default:22" json:"ssh_port" yaml:"ssh_port"`
	SSHUser   string    `gorm:"not null;default:root" json:"ssh_user" yaml:"ssh_user"`
	Status    string    `gorm:"not null;default:creating;size:32" json:"status" yaml:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at" yaml:"-"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at" yaml:"-"`
}

func (GameServer) TableName() string {
	return "game_servers"
}
