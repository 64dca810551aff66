package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/RayYangTW/pdca/internal/cost"
	"github.com/RayYangTW/pdca/internal/events"
	"github.com/RayYangTW/pdca/internal/loop"
	"github.com/RayYangTW/pdca/internal/pricing"
	"github.com/RayYangTW/pdca/internal/storage/sqlite"
	"github.com/RayYangTW/pdca/internal/tokens"
)

// loadRegistry returns the configured pricing table
func loadRegistry() (*pricing.Registry, error) {
	if cfg.Pricing.File == "" {
		return pricing.Default(), nil
	}
	reg, err := pricing.LoadFile(cfg.Pricing.File)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// openStore opens the audit store, or returns nil when storage is disabled
func openStore(ctx context.Context) (*sqlite.Store, error) {
	if !cfg.Storage.Enabled {
		return nil, nil
	}
	store, err := sqlite.New(ctx, cfg.Storage.Path, sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	return store, nil
}

// requireStore opens an existing audit store for read and maintenance commands
func requireStore(ctx context.Context) (*sqlite.Store, error) {
	if _, err := os.Stat(cfg.Storage.Path); err != nil {
		return nil, fmt.Errorf("no audit store at %s (run 'pdca simulate' with storage enabled first)", cfg.Storage.Path)
	}
	store, err := sqlite.New(ctx, cfg.Storage.Path, sqlite.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store %s: %w", cfg.Storage.Path, err)
	}
	return store, nil
}

func newRunID() string {
	return uuid.New().String()[:8]
}

// newRun builds a tracker and controller for runID that publish on bus
func newRun(runID string, reg *pricing.Registry, costPolicy cost.Policy, bus *events.Bus) (*cost.Tracker, *loop.Controller, error) {
	tracker, err := cost.NewTracker(costPolicy, reg,
		cost.WithRunID(runID),
		cost.WithEventBus(bus),
		cost.WithLogger(logger),
		cost.WithEstimator(tokens.New(tokens.WithLogger(logger))),
	)
	if err != nil {
		return nil, nil, err
	}

	ctrl, err := loop.New(cfg.Loop, costPolicy, tracker,
		loop.WithRunID(runID),
		loop.WithEventBus(bus),
		loop.WithLogger(logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return tracker, ctrl, nil
}
