package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"offerwatch/internal/app"
	"offerwatch/internal/config"
	"offerwatch/internal/logging"
	"offerwatch/internal/storage"
)

func main() {
	cfg, err := config.Load()
	must(err)

	log := logging.Setup(cfg.Env)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := storage.Open(ctx, cfg.DBPath)
	must(err)
	defer db.Close()

	must(app.Listen(ctx, cfg, db, log))
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
