package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jomardyan/FlexiFocus/internal/broadcast"
	"github.com/jomardyan/FlexiFocus/internal/dispatch"
	apperrors "github.com/jomardyan/FlexiFocus/internal/errors"
	"github.com/jomardyan/FlexiFocus/internal/middleware"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

const heartbeatInterval = 15 * time.Second

type TimerHandler struct {
	timerService *service.TimerService
	dispatcher   *dispatch.Dispatcher
	hub          *broadcast.Hub
}

func NewTimerHandler(timerService *service.TimerService, dispatcher *dispatch.Dispatcher, hub *broadcast.Hub) *TimerHandler {
	return &TimerHandler{
		timerService: timerService,
		dispatcher:   dispatcher,
		hub:          hub,
	}
}

func (h *TimerHandler) GetState(c *gin.Context) {
	state, apiErr := h.timerService.GetState(c.Request.Context())
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

// Command handles POST /api/commands, the single request channel shared by
// every client.
func (h *TimerHandler) Command(c *gin.Context) {
	var cmd dispatch.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		writeError(c, apperrors.BadRequest("invalid_json", "invalid request body"))
		return
	}

	ctx := service.WithClient(c.Request.Context(), middleware.Client(c))
	result, apiErr := h.dispatcher.Dispatch(ctx, cmd)
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// Events streams stateUpdated events until the client disconnects. The
// current state is sent first so a new client needs no separate fetch.
func (h *TimerHandler) Events(c *gin.Context) {
	events, cancel := h.hub.Subscribe(16)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	if state, apiErr := h.timerService.GetState(c.Request.Context()); apiErr == nil {
		writeSSE(c.Writer, broadcast.EventStateUpdated, state)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			writeSSE(c.Writer, event.Type, event.Payload)
			c.Writer.Flush()
		}
	}
}

// BreakPage is the page opened when break enforcement is on.
func (h *TimerHandler) BreakPage(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(breakPageHTML))
}

func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}

const breakPageHTML = `<!doctype html>
<html>
<head><meta charset="utf-8"><title>Take a break</title></head>
<body style="font-family:sans-serif;text-align:center;margin-top:20vh">
<h1>Time for a break</h1>
<p>Step away from the screen. The timer will let you know when to focus again.</p>
</body>
</html>
`
