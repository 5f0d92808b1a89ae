package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pgsm/console-bridge/internal/config"
	"github.com/pgsm/console-bridge/internal/console"
	"github.com/pgsm/console-bridge/internal/database"
	"github.com/pgsm/console-bridge/internal/handlers"
	"github.com/pgsm/console-bridge/internal/housekeeping"
	"github.com/pgsm/console-bridge/internal/logging"
	"github.com/pgsm/console-bridge/internal/shell"
	"github.com/pgsm/console-bridge/internal/sshproxy"
)

func main() {
	// Handle CLI commands before starting the server
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--import-inventory":
			runCLICommand("import-inventory")
			return
		case "--set-status":
			runCLICommand("set-status")
			return
		}
	}

	config.Load()
	logging.Init(config.Cfg.LogFilePath())
	defer logging.Close()

	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	if config.Cfg.InventoryFile != "" {
		n, err := database.SeedFromInventory(config.Cfg.InventoryFile)
		if err != nil {
			log.Fatalf("Inventory import: %v", err)
		}
		log.Printf("Imported %d servers from %s", n, config.Cfg.InventoryFile)
	}

	if err := os.MkdirAll(config.Cfg.SSHKeyDir, 0700); err != nil {
		log.Fatalf("SSH key dir: %v", err)
	}
	sshSigner, sshPublicKey, err := sshproxy.EnsureKeyPair(config.Cfg.SSHKeyDir)
	if err != nil {
		log.Fatalf("SSH key init: %v", err)
	}
	sshMgr := sshproxy.NewSSHManager(sshSigner, config.Cfg.SSHConnectTimeout)
	handlers.SSHMgr = sshMgr
	log.Printf("SSH manager initialized (public key: %s)", sshPublicKey)

	consoles := console.NewRegistry(console.RegistryConfig{
		Opener: &shell.SSHOpener{
			SSH:           sshMgr,
			AttachCommand: config.Cfg.ConsoleAttachCommand,
		},
		DefaultSize: shell.Size{
			Cols: config.Cfg.ConsoleDefaultCols,
			Rows: config.Cfg.ConsoleDefaultRows,
		},
		ViewerBuffer: config.Cfg.ConsoleViewerBuffer,
	})
	handlers.Consoles = consoles
	log.Printf("Console registry initialized (default=%dx%d, viewer_buffer=%d, attach=%q)",
		config.Cfg.ConsoleDefaultCols, config.Cfg.ConsoleDefaultRows,
		config.Cfg.ConsoleViewerBuffer, config.Cfg.ConsoleAttachCommand)

	scheduler, err := housekeeping.Start(config.Cfg.HousekeepingSchedule, consoles, sshMgr)
	if err != nil {
		log.Fatalf("Housekeeping: %v", err)
	}

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: newRouter(),
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	<-scheduler.Stop().Done()
	consoles.StopAll("server shutting down")

	if err := sshMgr.CloseAll(); err != nil {
		log.Printf("SSH manager shutdown: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

func newRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		// Console WebSocket
		r.Get("/console", handlers.ConsoleWS)

		r.Get("/servers", handlers.ListServers)
		r.Get("/consoles", handlers.ListConsoles)
		r.Delete("/consoles/{serverID}", handlers.StopConsole)
		r.Get("/logs", handlers.GetServerLogs)
	})
	return r
}

func runCLICommand(command string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	file := fs.String("file", "", "Inventory YAML file")
	server := fs.String("server", "", "Server ID")
	status := fs.String("status", "", "Server status (creating, stopped, running, error)")
	fs.Parse(os.Args[2:])

	config.Load()
	if err := database.Init(config.Cfg.DatabasePath); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	switch command {
	case "import-inventory":
		if *file == "" {
			fmt.Fprintln(os.Stderr, "Usage: pgsm-console --import-inventory --file <inventory.yaml>")
			os.Exit(1)
		}
		n, err := database.SeedFromInventory(*file)
		if err != nil {
			log.Fatalf("Failed to import inventory: %v", err)
		}
		fmt.Printf("Imported %d servers.\n", n)

	case "set-status":
		if *server == "" || !database.ValidStatus(*status) {
			fmt.Fprintln(os.Stderr, "Usage: pgsm-console --set-status --server <id> --status <creating|stopped|running|error>")
			os.Exit(1)
		}
		if err := database.SetServerStatus(*server, *status); err != nil {
			log.Fatalf("Failed to set status: %v", err)
		}
		fmt.Printf("Server '%s' is now %s.\n", *server, *status)
	}
}
