package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jomardyan/FlexiFocus/internal/handler"
	"github.com/jomardyan/FlexiFocus/internal/middleware"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

func New(
	tokenService *service.TokenService,
	timerHandler *handler.TimerHandler,
	corsOrigins []string,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/break", timerHandler.BreakPage)

	api := engine.Group("/api")
	api.Use(middleware.Auth(tokenService))
	api.GET("/state", timerHandler.GetState)
	api.POST("/commands", timerHandler.Command)
	api.GET("/events", timerHandler.Events)

	return engine
}
