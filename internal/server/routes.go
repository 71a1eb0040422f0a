package server

import (
	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/domains/engine"
	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
	"github.com/mindstream-labs/mindstream/internal/handlers"
	ws "github.com/mindstream-labs/mindstream/internal/handlers/websocket"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Dependencies bundles what the routes need.
type Dependencies struct {
	Coordinator *engine.Coordinator
	Recorder    *recorder.Recorder
	WSHandler   *ws.Handler
	Configs     *config.Settings
	Logger      *Logger.Logger
}

func NewServerDependencies(
	coord *engine.Coordinator,
	rec *recorder.Recorder,
	wsHandler *ws.Handler,
	cfg *config.Settings,
	logger *Logger.Logger,
) Dependencies {
	return Dependencies{
		Coordinator: coord,
		Recorder:    rec,
		WSHandler:   wsHandler,
		Configs:     cfg,
		Logger:      logger,
	}
}

func InitializeRoutes(r *gin.Engine, dep Dependencies) {
	deviceH := handlers.NewDeviceHandler(dep.Coordinator, dep.Configs, dep.Logger)
	streamH := handlers.NewStreamHandler(dep.Coordinator, dep.Logger)
	dataH := handlers.NewDataHandler(dep.Coordinator, dep.Recorder, dep.Logger)
	systemH := handlers.NewSystemHandler(dep.Coordinator)

	r.GET("/", func(c *gin.Context) { c.JSON(200, gin.H{"message": "mindstream engine"}) })
	r.GET("/health", systemH.Health)
	r.GET("/metrics", systemH.Metrics)

	device := r.Group("/device")
	{
		device.GET("/scan", deviceH.Scan)
		device.POST("/connect", deviceH.Connect)
		device.DELETE("/disconnect", deviceH.Disconnect)
		device.GET("/registered", deviceH.Registered)
		device.DELETE("/registered/:address", deviceH.Forget)
		device.GET("/status", deviceH.Status)
	}

	stream := r.Group("/stream")
	{
		stream.POST("/start", streamH.Start)
		stream.POST("/stop", streamH.Stop)
		stream.GET("/status", streamH.Status)
	}

	data := r.Group("/data")
	{
		data.POST("/start-recording", dataH.StartRecording)
		data.POST("/stop-recording", dataH.StopRecording)
		data.GET("/recording-status", dataH.RecordingStatus)
		data.GET("/sessions", dataH.ListSessions)
		data.GET("/sessions/:id", dataH.GetSession)
		data.DELETE("/sessions/:id", dataH.DeleteSession)
		data.POST("/sessions/:id/export", dataH.Export)
		data.GET("/exports/:id", dataH.ExportStatus)
	}

	// secondary bus endpoint on the HTTP server
	dep.WSHandler.RegisterRoutes(r)
}
