package main

import (
	"flag"
	"fmt"
	"os"
	_ "time/tzdata"

	"RegimeDesk/internal/di"
	"RegimeDesk/pkg/config"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "regimedesk:", err)
		os.Exit(1)
	}
}

// run reports config and wiring errors on stderr; the structured logger does
// not exist until the config has loaded.
func run() error {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer cleanup()
	return app.Run()
}
