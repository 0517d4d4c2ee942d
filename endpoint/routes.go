package endpoint

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the consultation, audit and health routes. limit
// guards the routes that call the model.
func RegisterRoutes(r gin.IRouter, limit gin.HandlerFunc) {
	r.POST("/consultation", CreateConsultation)
	r.POST("/consultation/:id/diagnose", limit, StartDiagnosis)
	r.POST("/consultation/:id/retry", limit, RetryDiagnosis)
	r.GET("/consultation/:id/status", GetConsultationStatus)
	r.GET("/consultation/:id/report", GetConsultationReport)
	r.PATCH("/consultation/:id/diagnosis/confidence", UpdateConfidence)
	r.PATCH("/consultation/:id/prescription/herbs", EditPrescriptionHerbs)

	r.GET("/api-calls/recent", ListRecentAPICalls)
	r.GET("/api-calls/statistics", GetAPICallStatistics)
	r.GET("/ai/health", limit, CheckAIHealth)
}
