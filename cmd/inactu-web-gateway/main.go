package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/inactu/inactu-web/core/gateway"
	"github.com/inactu/inactu-web/core/infra/buildinfo"
	"github.com/inactu/inactu-web/core/infra/config"
	"github.com/inactu/inactu-web/core/infra/logging"
)

func main() {
	log.Println("inactu web gateway starting...")
	buildinfo.Log("inactu-web-gateway")
	cfg, err := config.Load()
	if err != nil {
		logging.Error("inactu-web-gateway", "config overlay ignored", "error", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := gateway.Run(ctx, cfg); err != nil {
		log.Fatalf("web gateway error: %v", err)
	}
}
