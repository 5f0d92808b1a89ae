package database

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Inventory is the on-disk YAML list of managed game servers:
//
//	servers:
//	  - id: 3f0c...
//	    name: survival
//	    ip_address: 172.16.0.10
//	    status: running
type Inventory struct {
	Servers []GameServer `yaml:"servers"`
}

// LoadInventory parses an inventory file, filling defaults for omitted
// fields. Servers without an ID get a fresh UUID.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}

	for i := range inv.Servers {
		srv := &inv.Servers[i]
		if srv.IPAddress == "" {
			return nil, fmt.Errorf("inventory entry %d (%q): ip_address is required", i, srv.Name)
		}
		if srv.ID == "" {
			srv.ID = uuid.New().String()
		}
		if srv.Name == "" {
			srv.Name = srv.ID
		}
		if srv.SSHPort == 0 {
			srv.SSHPort = 22
		}
		if srv.SSHUser == "" {
			srv.SSHUser = "root"
		}
		if srv.Status == "" {
			srv.Status = StatusStopped
		}
		if !ValidStatus(srv.Status) {
			return nil, fmt.Errorf("inventory entry %d (%q): unknown status %q", i, srv.Name, srv.Status)
		}
	}
	return &inv, nil
}

// SeedFromInventory upserts every server listed in the inventory file.
func SeedFromInventory(path string) (int, error) {
	inv, err := LoadInventory(path)
	if err != nil {
		return 0, err
	}
	for i := range inv.Servers {
		if err := UpsertServer(&inv.Servers[i]); err != nil {
			return i, err
		}
	}
	log.Printf("Seeded %d game servers from %s", len(inv.Servers), path)
	return len(inv.Servers), nil
}
