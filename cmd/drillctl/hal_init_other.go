//go:build !linux
// +build !linux

package main

import (
	"go.uber.org/zap"

	"github.com/edgeflow/drillctl/internal/config"
	"github.com/edgeflow/drillctl/internal/hal"
)

// initHAL on non-Linux builds only ever resolves to the simulator or
// fake backend: go-rpio's register-level GPIO access requires Linux.
func initHAL(cfg config.HALConfig, log *zap.Logger) hal.Provider {
	if cfg.Backend == "simulator" {
		p, err := hal.NewSimProvider(cfg.SimulatorURL)
		if err != nil {
			log.Warn("simulator HAL unavailable, falling back to fake", zap.Error(err))
			return hal.NewFakeProvider()
		}
		return p
	}
	log.Info("non-Linux platform, using fake HAL")
	return hal.NewFakeProvider()
}
