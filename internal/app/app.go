package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/domains/device"
	"github.com/mindstream-labs/mindstream/internal/domains/engine"
	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
	ws "github.com/mindstream-labs/mindstream/internal/handlers/websocket"
	deviceRepo "github.com/mindstream-labs/mindstream/internal/repository/device"
	sessionRepo "github.com/mindstream-labs/mindstream/internal/repository/session"
	"github.com/mindstream-labs/mindstream/internal/server"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// App owns every engine component and wires them together.
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB

	Bus         *ws.Bus
	WSHandler   *ws.Handler
	Adapter     *device.Adapter
	Recorder    *recorder.Recorder
	Coordinator *engine.Coordinator

	ServerDeps server.Dependencies
}

func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB) (*App, error) {
	a := &App{Config: cfg, Logger: logger, DB: db}
	if err := a.setupDependencies(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) setupDependencies() error {
	// 1. bus: one logical instance behind both endpoints
	a.Bus = ws.NewBus(a.Config.Bus, a.Logger)
	a.WSHandler = ws.NewHandler(a.Bus, a.Logger)

	// 2. device link + adapter
	link, err := buildLink(a.Config.Device)
	if err != nil {
		return err
	}
	a.Adapter = device.NewAdapter(a.Config.Device, link, a.Logger)

	// 3. stores
	registry := deviceRepo.NewGormDeviceRegistry(a.DB)
	sessions := sessionRepo.NewGormSessionRepo(a.DB)

	// 4. recorder (runs crash recovery)
	rec, err := recorder.New(a.Config.Recorder, sessions, a.Bus, a.Logger)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	a.Recorder = rec

	// 5. coordinator on top, wired into the bus command path
	a.Coordinator = engine.NewCoordinator(a.Config, a.Adapter, a.Recorder, registry, a.Bus, a.Logger)
	a.Bus.SetCommander(a.Coordinator)

	a.ServerDeps = server.NewServerDependencies(a.Coordinator, a.Recorder, a.WSHandler, a.Config, a.Logger)
	return nil
}

// Start brings the coordinator to running.
func (a *App) Start() error {
	return a.Coordinator.Start()
}

// Shutdown runs the ordered teardown after the HTTP acceptor has stopped:
// clients, pipelines, recorder, adapter, then the bus listener.
func (a *App) Shutdown() {
	a.Bus.Close()
	a.Coordinator.Shutdown()
	a.WSHandler.Shutdown()
}

func buildLink(cfg config.DeviceConfig) (device.Link, error) {
	switch cfg.Link {
	case "", "sim":
		return device.NewSimLink(), nil
	default:
		// A hardware BLE transport plugs in here; only the simulator ships.
		return nil, fmt.Errorf("unknown device link %q", cfg.Link)
	}
}
