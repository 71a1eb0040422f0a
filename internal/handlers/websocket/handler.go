package websocket

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Handler exposes the bus on its two endpoints: the standalone listener on
// the configured port and the gin-mounted /ws route. Both upgrade into the
// same Bus.
type Handler struct {
	logger   *Logger.Logger
	bus      *Bus
	upgrader websocket.Upgrader
	server   *http.Server
}

func NewHandler(bus *Bus, logger *Logger.Logger) *Handler {
	return &Handler{
		logger: logger,
		bus:    bus,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes mounts the bus on the HTTP server.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.handleGin)
}

func (h *Handler) handleGin(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	h.bus.ServeConn(conn)
}

// ListenStandalone starts the primary bus listener. Blocks until the server
// stops; run it on its own goroutine.
func (h *Handler) ListenStandalone(port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Errorf("websocket upgrade failed: %v", err)
			return
		}
		h.bus.ServeConn(conn)
	})
	h.server = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	err := h.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the standalone listener.
func (h *Handler) Shutdown() {
	if h.server != nil {
		h.server.Close()
	}
}
