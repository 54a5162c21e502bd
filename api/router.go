package api

import (
	"framepipe/config"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// PathPrefix is where every pipeline route is mounted.
const PathPrefix = "/api/v1/video-pipeline"

func SetupRouter(deps Deps, cfg *config.Config, log zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(log), Recovery(log))
	h := NewHandler(deps, cfg, log)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group(PathPrefix)
	{
		// Continuous decoding
		v1.POST("/decode/", h.handleStartDecode)
		v1.GET("/decode/", h.handleListDecodes)
		v1.POST("/decode/stop/", h.handleStopDecode)
		v1.GET("/decode/status/", h.handleDecodeStatus)
		v1.GET("/latest-frame/", h.handleLatestFrame)
		v1.POST("/cleanup/", h.handleCleanup)

		// One-shot operations
		v1.POST("/snapshot/", h.handleSnapshot)
		v1.POST("/record/", h.handleRecord)
		v1.POST("/video-info/", h.handleVideoInfo)
		v1.POST("/video-info-url/", h.handleVideoInfoURL)
		v1.GET("/clips/:filename", h.handleGetClip)

		v1.GET("/hw-accel-cap/", h.handleHWAccelCap)
		v1.GET("/health/", h.handleHealth)
		v1.GET("/debug/", h.handleDebug)
	}
	return r
}
