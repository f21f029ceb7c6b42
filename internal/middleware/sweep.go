package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// SweepTrigger is satisfied by *service.SweepThrottle.
type SweepTrigger interface {
	MaybeSweep(ctx context.Context) bool
}

// ThrottledSweep gives every request a chance to run the lifecycle sweep.
// The throttle decides whether it actually runs. The sweep is detached from
// the request context so a client hanging up cannot cut a transition short.
func ThrottledSweep(trigger SweepTrigger) gin.HandlerFunc {
	return func(c *gin.Context) {
		trigger.MaybeSweep(context.WithoutCancel(c.Request.Context()))
		c.Next()
	}
}
