package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/edgeflow/drillctl/internal/api"
	"github.com/edgeflow/drillctl/internal/api/middleware"
	"github.com/edgeflow/drillctl/internal/config"
	"github.com/edgeflow/drillctl/internal/coordinator"
	"github.com/edgeflow/drillctl/internal/cycle"
	"github.com/edgeflow/drillctl/internal/display"
	"github.com/edgeflow/drillctl/internal/hal"
	"github.com/edgeflow/drillctl/internal/input"
	"github.com/edgeflow/drillctl/internal/logger"
	"github.com/edgeflow/drillctl/internal/manual"
	"github.com/edgeflow/drillctl/internal/permit"
	"github.com/edgeflow/drillctl/internal/pulse"
	"github.com/edgeflow/drillctl/internal/safety"
	"github.com/edgeflow/drillctl/internal/security"
	"github.com/edgeflow/drillctl/internal/telemetry"
	wshub "github.com/edgeflow/drillctl/internal/websocket"
)

var Version = "0.1.0"

// axisPins is the fixed step/dir/limit/safety pin map of spec.md §6.
// There is no config setting for it; it is hardcoded here the same way
// the teacher's own board wiring is hardcoded per deployment.
var axisPins = struct {
	Linear, Drill pulse.Pins
	Input         input.Pins
}{
	Linear: pulse.Pins{Step: 17, Dir: 27},
	Drill:  pulse.Pins{Step: 22, Dir: 23},
	Input: input.Pins{
		Reset: 5, Start: 6, Stop: 13, Drill: 19,
		Safety: 26, LimitHome: 20, LimitFinal: 21,
		JoystickChannel: 0,
	},
}

func main() {
	fmt.Printf("drillctl v%s — drill-machine control core\n", Version)

	cfg, err := config.Load(os.Getenv("DRILLCTL_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     "./logs",
		MaxSizeMB:  cfg.Logger.MaxSizeMB,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAgeDays: cfg.Logger.MaxAgeDays,
		Compress:   true,
	}); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()
	zlog := logger.Get()

	provider := initHAL(cfg.HAL, zlog)
	hal.SetGlobal(provider)

	modesPath := os.Getenv("DRILLCTL_MODES_FILE")
	if modesPath == "" {
		modesPath = "./configs/modes.yaml"
	}
	modes, consts, err := config.LoadModeTable(modesPath)
	if err != nil {
		zlog.Warn("failed to load mode table, using defaults", zap.Error(err))
		consts = cycle.DefaultConstants()
		modes = map[int]cycle.ModeParams{}
	}

	thresholds := input.Thresholds{
		JoystickLow:          consts.JoystickLowThreshold,
		JoystickHigh:         consts.JoystickHighThreshold,
		ManualVelocitySlowUs: consts.ManualVelocitySlowUs,
		ManualVelocityFastUs: consts.ManualVelocityFastUs,
		DebounceSamplePeriod: 5 * time.Millisecond,
	}
	if thresholds.JoystickHigh == 0 {
		thresholds = input.DefaultThresholds()
	}

	sampler := input.New(provider, axisPins.Input, thresholds)
	linear := pulse.NewAxis(provider, axisPins.Linear, consts.LinearDirectionInvert)
	drill := pulse.NewAxis(provider, axisPins.Drill, consts.DrillDirectionInvert)
	supervisor := safety.New(time.Duration(consts.PauseResumeDelayMs) * time.Millisecond)

	wsHub := wshub.NewHub()
	go wsHub.Run()
	logger.SetBroadcaster(func(level, message, source string, fields map[string]interface{}) {
		wsHub.Broadcast(wshub.MessageTypeLog, map[string]interface{}{
			"level": level, "message": message, "source": source, "fields": fields,
		})
	})
	displaySink := display.Multi{Sinks: []display.Sink{display.NewConsole(), display.NewHub(wsHub)}}

	var eventLog *telemetry.EventLog
	if cfg.Telemetry.EventLogPath != "" {
		eventLog, err = telemetry.NewEventLog(cfg.Telemetry.EventLogPath)
		if err != nil {
			zlog.Warn("event log unavailable", zap.Error(err))
		} else {
			defer eventLog.Close()
		}
	}

	var mqttPub *telemetry.MQTTPublisher
	if cfg.Telemetry.MQTTBroker != "" {
		mqttPub, err = telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			Broker: cfg.Telemetry.MQTTBroker,
			Topic:  cfg.Telemetry.MQTTTopic,
		})
		if err != nil {
			zlog.Warn("mqtt publisher unavailable", zap.Error(err))
		} else {
			defer mqttPub.Close()
		}
	}

	var redisMirror *telemetry.RedisMirror
	if cfg.Telemetry.RedisAddr != "" {
		redisMirror, err = telemetry.NewRedisMirror(telemetry.RedisConfig{
			Addr:    cfg.Telemetry.RedisAddr,
			Channel: cfg.Telemetry.RedisChannel,
		})
		if err != nil {
			zlog.Warn("redis mirror unavailable", zap.Error(err))
		} else {
			defer redisMirror.Close()
		}
	}

	var influxWriter *telemetry.InfluxWriter
	if cfg.Telemetry.InfluxURL != "" {
		influxWriter, err = telemetry.NewInfluxWriter(telemetry.InfluxConfig{
			URL:    cfg.Telemetry.InfluxURL,
			Token:  cfg.Telemetry.InfluxToken,
			Org:    cfg.Telemetry.InfluxOrg,
			Bucket: cfg.Telemetry.InfluxBucket,
		})
		if err != nil {
			zlog.Warn("influx writer unavailable", zap.Error(err))
		} else {
			defer influxWriter.Close()
		}
	}

	var machine *cycle.Machine

	hooks := cycle.Hooks{
		OnPhase: func(p cycle.Phase) {
			mode := machine.Snapshot().SelectedMode
			logger.WithCycle(p.String(), mode).Info("phase change")
			wsHub.Broadcast(wshub.MessageTypePhaseChange, map[string]interface{}{"phase": p.String()})
			if eventLog != nil {
				eventLog.Record("phase_change", map[string]interface{}{"phase": p.String()})
			}
			snapshot := map[string]interface{}{"phase": p.String(), "mode": mode}
			if mqttPub != nil {
				if err := mqttPub.Publish(snapshot); err != nil {
					zlog.Warn("mqtt publish failed", zap.Error(err))
				}
			}
			if redisMirror != nil {
				if err := redisMirror.Publish(context.Background(), snapshot); err != nil {
					zlog.Warn("redis publish failed", zap.Error(err))
				}
			}
			if influxWriter != nil {
				ctx := context.Background()
				if err := influxWriter.WriteStepCount(ctx, "linear", linear.StepEdgesEmitted()); err != nil {
					logger.WithAxis("linear").Warn("influx write failed", zap.Error(err))
				}
				if err := influxWriter.WriteStepCount(ctx, "drill", drill.StepEdgesEmitted()); err != nil {
					logger.WithAxis("drill").Warn("influx write failed", zap.Error(err))
				}
			}
		},
		OnSpindleRev: func(count int) {
			if eventLog != nil {
				eventLog.Record("spindle_revolution", map[string]interface{}{"count": count})
			}
			if influxWriter != nil {
				phase := machine.Snapshot().Phase.String()
				mode := machine.Snapshot().SelectedMode
				if err := influxWriter.WriteSpindleRevolution(context.Background(), mode, phase, count); err != nil {
					zlog.Warn("influx write failed", zap.Error(err))
				}
			}
		},
		OnPaused: func(paused bool) {
			wsHub.Broadcast(wshub.MessageTypeNotification, map[string]interface{}{"paused": paused})
		},
		OnDisplay: displaySink.Show,
		OnError: func(kind string) {
			logger.WithPhase(machine.Snapshot().Phase.String()).Warn("control error", zap.String("kind", kind))
		},
		OnEvent: func(name string, fields map[string]interface{}) {
			if eventLog != nil {
				eventLog.Record(name, fields)
			}
		},
	}

	var permitGate permit.Permit = permit.AlwaysAllow{}

	machine = cycle.New(linear, drill, sampler, supervisor, consts, permitGate, hooks, provider.NowMicros, nil)

	manualCtl := manual.New(linear, drill, sampler, supervisor, thresholds,
		consts.LimitReboundSteps, consts.LimitReboundHalfPeriodUs,
		manual.Hooks{
			OnDrillChanged: func(on bool) {
				wsHub.Broadcast(wshub.MessageTypeNotification, map[string]interface{}{"manual_drill": on})
			},
			OnDisplay: displaySink.Show,
		},
		provider.NowMicros, nil)

	coord := coordinator.New(machine, manualCtl, sampler, linear, drill, modes, consts, permitGate, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Run(ctx)

	pinService := security.NewPINService(0)
	pinHash := os.Getenv("DRILLCTL_OPERATOR_PIN_HASH")

	jwtCfg := middleware.JWTConfig{
		SecretKey:  cfg.Security.JWTSecret,
		Expiration: time.Duration(cfg.Security.TokenTTLMin) * time.Minute,
		Issuer:     "drillctl",
		SkipPaths:  []string{"/api/v1/health"},
	}

	app := fiber.New(fiber.Config{AppName: "drillctl v" + Version})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	api.SetupRoutes(app, api.Deps{
		Coordinator: coord,
		Hub:         wsHub,
		PIN:         pinService,
		PINHash:     pinHash,
		JWT:         jwtCfg,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	go func() {
		if err := app.Listen(addr); err != nil {
			zlog.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zlog.Info("shutting down")
	_ = app.Shutdown()
	cancel()
	_ = provider.Close()
}
