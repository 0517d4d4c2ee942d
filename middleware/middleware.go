package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ariebrainware/tcm-diagnosis/calllog"
	"github.com/ariebrainware/tcm-diagnosis/consultation"
	"github.com/ariebrainware/tcm-diagnosis/util"
)

// HealthChecker probes the model provider.
type HealthChecker interface {
	TestConnection(ctx context.Context) error
}

// Services are the dependencies handlers pull from the request context.
type Services struct {
	Consultations *consultation.Service
	CallLog       *calllog.Logger
	AI            HealthChecker
	Reports       *util.ReportSigner
}

const servicesKey = "services"

// CORSMiddleware configures CORS headers for incoming requests.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		setCorsHeaders(c)

		// For preflight requests, respond with 204 and abort further processing.
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func setCorsHeaders(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PATCH")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "X-Requested-With, Content-Type, Authorization")
	c.Writer.Header().Set("Access-Control-Max-Age", "86400")
	c.Writer.Header().Set("Content-Type", "application/json")
}

// ServicesMiddleware makes svc available to handlers through GetServices.
func ServicesMiddleware(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(servicesKey, svc)
		c.Next()
	}
}

// GetServices returns the services set by ServicesMiddleware, or nil.
func GetServices(c *gin.Context) *Services {
	v, exists := c.Get(servicesKey)
	if !exists {
		return nil
	}
	svc, _ := v.(*Services)
	return svc
}
