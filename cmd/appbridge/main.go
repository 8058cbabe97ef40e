package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"appbridge/internal/app"
	"appbridge/pkg/config"
	"appbridge/pkg/logger"
	"appbridge/pkg/shutdown"
)

func main() {
	// build metadata - set via ldflags during build/release
	var (
		version   = "dev"
		commit    = "none"
		buildDate = "unknown"
	)
	_ = godotenv.Load(".env")
	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()

	eff, err := config.LoadEffective(cfgVal)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// flags win over config/env when provided by the user
	if setFlags["addr"] {
		eff.Addr = addrVal
		eff.Source = "flags"
	}
	if setFlags["db"] {
		eff.DBPath = dbVal
		eff.Source = "flags"
	}

	logger.Init(eff.Config.Logging.Level)

	a, err := app.New(eff, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("server failed", err)
	}
}
