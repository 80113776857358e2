package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/yoockh/mockcall/internal/api/handlers"
	"github.com/yoockh/mockcall/internal/api/middleware"
)

type Deps struct {
	JWT         middleware.JWTConfig
	CallContext *handlers.CallContextHandler
	Feedback    *handlers.FeedbackHandler
	CallWS      *handlers.CallWSHandler
	// Live reports the number of active calls for the health endpoint.
	Live func() int
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		body := gin.H{"message": "pong"}
		if d.Live != nil {
			body["live_calls"] = d.Live()
		}
		c.JSON(http.StatusOK, body)
	})

	// voice transport; the call id itself is the credential
	r.GET(handlers.CallWSPath, d.CallWS.Connect)
	r.GET(handlers.CallWSPrefixedPath, d.CallWS.Connect)

	// backend-to-backend (JWT, service or admin role)
	backend := r.Group("/")
	backend.Use(middleware.JWTAuth(d.JWT), middleware.RequireBackend())

	backend.PUT("/calls/:call_id/context", d.CallContext.Put)
	backend.GET("/calls/:call_id/context", d.CallContext.Get)
	backend.GET("/calls/:call_id/events", d.CallContext.Events)

	backend.POST("/interviews/:interview_id/feedback", d.Feedback.Submit)
	backend.GET("/interviews/:interview_id/feedback", d.Feedback.Get)
}
