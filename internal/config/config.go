package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":5000"`
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/pgsm.db"`
	LogPath      string `envconfig:"LOG_PATH" default:""`

	// SSH access to managed servers
	SSHKeyDir         string        `envconfig:"SSH_KEY_DIR" default:"/app/data/ssh"`
	SSHConnectTimeout time.Duration `envconfig:"SSH_CONNECT_TIMEOUT" default:"15s"`

	// Console session settings
	ConsoleAttachCommand string  `envconfig:"CONSOLE_ATTACH_COMMAND" default:"tmux attach -t PGSM"`
	ConsoleDefaultCols   uint16  `envconfig:"CONSOLE_DEFAULT_COLS" default:"220"`
	ConsoleDefaultRows   uint16  `envconfig:"CONSOLE_DEFAULT_ROWS" default:"50"`
	ConsoleViewerBuffer  int     `envconfig:"CONSOLE_VIEWER_BUFFER" default:"256"`
	ConsoleInputRate     float64 `envconfig:"CONSOLE_INPUT_RATE" default:"200"`
	ConsoleInputBurst    int     `envconfig:"CONSOLE_INPUT_BURST" default:"200"`

	InventoryFile        string `envconfig:"INVENTORY_FILE" default:""`
	HousekeepingSchedule string `envconfig:"HOUSEKEEPING_SCHEDULE" default:"@every 1m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("PGSM", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// LogFilePath returns the configured log file, falling back to pgsm.log
// under DataPath.
func (s Settings) LogFilePath() string {
	if s.LogPath != "" {
		return s.LogPath
	}
	return filepath.Join(s.DataPath, "pgsm.log")
}
