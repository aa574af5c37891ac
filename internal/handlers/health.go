package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/response"
)

var errUnavailable = errors.New("SERVICE_UNAVAILABLE", "service unavailable", http.StatusServiceUnavailable)

// Health reports readiness. The durable store is pinged on every call since a
// node that cannot reach it cannot serve authenticated traffic.
func Health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(requestContext(c), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			response.Error(c, errUnavailable)
			return
		}

		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	}
}
