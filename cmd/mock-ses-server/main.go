// mock-ses-server is an in-process stand-in for the AWS SES v1 query
// API, for test suites that exercise email-sending code without a real
// provider. It accepts SendEmail/SendRawEmail, records what was sent,
// and exposes management endpoints to inspect, await, and fail sends.
//
// SDK compatibility target: SES query API (SendEmail, SendRawEmail)
// Integration method: override the SES endpoint URL in the client
package main

import (
	"log"
	"os"

	"github.com/flitsmeister/mock-ses-server/internal/api"
	"github.com/flitsmeister/mock-ses-server/internal/store"
	"github.com/flitsmeister/mock-ses-server/pkg/admin"
	"github.com/flitsmeister/mock-ses-server/pkg/simcore"
)

func main() {
	cfg, err := simcore.ParseFlags("mock-ses-server")
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if cfg.Port == 0 {
		cfg.Port = 9001
	}

	srv := simcore.New(cfg)
	memStore := store.New()

	// API handlers
	apiHandler := api.NewHandler(memStore, srv.Middleware())
	apiHandler.Routes(srv.Router)

	// Admin control plane
	adminHandler := admin.NewHandler(memStore, srv.Middleware(), memStore.Clock)
	adminHandler.SetConfigProvider(srv)
	adminHandler.Routes(srv.Router)

	// Load seed data if provided
	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			log.Fatalf("failed to read seed file: %v", err)
		}
		if err := memStore.LoadState(data); err != nil {
			log.Fatalf("failed to load seed data: %v", err)
		}
		srv.Logger.Info("loaded seed data", "file", cfg.SeedFile)
	}

	srv.Logger.Info("mock-ses-server ready", "port", cfg.Port)

	if err := srv.Serve(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
