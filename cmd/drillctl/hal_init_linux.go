//go:build linux
// +build linux

package main

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/edgeflow/drillctl/internal/config"
	"github.com/edgeflow/drillctl/internal/hal"
)

// initHAL resolves the configured backend, falling back to a fake
// provider (never real hardware) when an rpi backend is requested on a
// non-ARM build or the SPI bus can't be opened.
func initHAL(cfg config.HALConfig, log *zap.Logger) hal.Provider {
	switch cfg.Backend {
	case "simulator":
		p, err := hal.NewSimProvider(cfg.SimulatorURL)
		if err != nil {
			log.Warn("simulator HAL unavailable, falling back to fake", zap.Error(err))
			return hal.NewFakeProvider()
		}
		return p
	case "rpi":
		if runtime.GOARCH != "arm64" && runtime.GOARCH != "arm" {
			log.Warn("rpi HAL requested on non-ARM build, falling back to fake")
			return hal.NewFakeProvider()
		}
		p, err := hal.NewRPiProvider(hal.RPiConfig{ADCBus: cfg.ADCBus, ADCChannel: cfg.ADCChannel})
		if err != nil {
			log.Warn("rpi HAL unavailable, falling back to fake", zap.Error(err))
			return hal.NewFakeProvider()
		}
		return p
	default:
		return hal.NewFakeProvider()
	}
}
