// Command carrypigeond is a smoke-test wiring binary: it constructs a
// logger, an environment-backed config source, and every registry the
// core exposes, demonstrating the embedding contract a webview host
// follows to stand the backend up. It is not a server; it does not
// listen on anything.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/appscheme"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/config"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/db"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/eventsink"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/pluginstore"
	"github.com/CarryPigeon/CarryPigeon-Desktop/internal/session"
)

func main() {
	logger := log.New(os.Stdout, "[carrypigeond] ", log.LstdFlags|log.Lmsgprefix)

	dataDir := flag.String("data-dir", "./data", "root directory for plugin and database state")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := eventsink.NewLogSink(logger)
	cfg := config.EnvSource{}

	pluginBase := filepath.Join(*dataDir, "plugins")
	store := pluginstore.New(pluginBase, logger, sink)

	dbRegistry := db.NewRegistry(cfg, logger)
	dbRegistry.BaseDir = *dataDir
	systemDBPath := filepath.Join(*dataDir, "db", "system.db")
	if err := dbRegistry.Init(ctx, "system", systemDBPath, "system"); err != nil {
		logger.Fatalf("system database init failed: %v", err)
	}

	sessions := session.NewRegistry(logger, sink)
	scheme := appscheme.New(store)

	logger.Printf("backend wired: plugins=%s system_db=%s appscheme=%T sessions=%T",
		pluginBase, systemDBPath, scheme, sessions)
}
