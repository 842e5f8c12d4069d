package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kami1983/sl-runes-agent/internal/handler"
	"github.com/kami1983/sl-runes-agent/internal/middleware"
	"github.com/kami1983/sl-runes-agent/internal/service"
)

// Handlers 所有处理器; Jobs 为 nil 时不注册任务接口
type Handlers struct {
	Envelope *handler.EnvelopeHandler
	Claim    *handler.ClaimHandler
	Status   *handler.StatusHandler
	Global   *handler.GlobalHandler
	Jobs     *handler.JobsHandler
}

// SetupRouter 设置路由
func SetupRouter(r *gin.Engine, h *Handlers, users *service.UserService) {
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	sl := r.Group("/sl")
	sl.Use(middleware.IdentifyUser(users))
	{
		sl.POST("/wallet", h.Envelope.Wallet)

		sl.GET("/status", h.Status.Status)
		sl.GET("/stats", h.Status.Stats)

		global := sl.Group("/global/keys")
		{
			global.POST("/update", h.Global.UpdateKeys)
			global.POST("/get", h.Global.GetKeys)
		}

		user := sl.Group("")
		user.Use(middleware.RequireToken())
		{
			user.POST("/create", h.Envelope.Create)
			user.POST("/send", h.Envelope.Send)
			user.POST("/revoke", h.Envelope.Revoke)
			user.POST("/get", h.Envelope.Get)
			user.POST("/grab", h.Claim.Grab)
			user.POST("/list", h.Status.List)
		}

		if h.Jobs != nil {
			jobs := sl.Group("/jobs")
			{
				jobs.GET("", h.Jobs.ListJobStatus)
				jobs.GET("/:name", h.Jobs.GetJobStatus)
				jobs.GET("/:name/executions", h.Jobs.ListExecutions)
				jobs.POST("/:name/trigger", h.Jobs.TriggerJob)
			}
		}
	}
}

// New 创建带公共中间件的 gin 引擎, corsOrigins 为空时不限制来源
func New(h *Handlers, users *service.UserService, corsOrigins ...string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(corsOrigins...))
	SetupRouter(r, h, users)
	return r
}
