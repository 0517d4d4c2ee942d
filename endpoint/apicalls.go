package endpoint

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/ariebrainware/tcm-diagnosis/middleware"
	"github.com/ariebrainware/tcm-diagnosis/util"
)

const maxRecentCalls = 500

// ListRecentAPICalls godoc
// @Summary      Recent model calls
// @Description  Newest audit entries first
// @Tags         APICalls
// @Produce      json
// @Param        limit query int false "Number of entries" default(50)
// @Success      200 {object} util.APIResponse{data=[]calllog.Entry} "API calls retrieved"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /api-calls/recent [get]
func ListRecentAPICalls(c *gin.Context) {
	svc := middleware.GetServices(c)
	if svc == nil || svc.CallLog == nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Call log not available",
			Err: fmt.Errorf("call log is nil"),
		})
		return
	}

	limit := cast.ToInt(c.DefaultQuery("limit", "50"))
	if limit > maxRecentCalls {
		limit = maxRecentCalls
	}

	entries, err := svc.CallLog.RecentCalls(limit)
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to read API calls",
			Err: err,
		})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "API calls retrieved",
		Data: entries,
	})
}

// GetAPICallStatistics godoc
// @Summary      Model call statistics
// @Description  Totals, success rate, average duration and per-service counts
// @Tags         APICalls
// @Produce      json
// @Success      200 {object} util.APIResponse{data=calllog.Statistics} "Statistics retrieved"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /api-calls/statistics [get]
func GetAPICallStatistics(c *gin.Context) {
	svc := middleware.GetServices(c)
	if svc == nil || svc.CallLog == nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Call log not available",
			Err: fmt.Errorf("call log is nil"),
		})
		return
	}

	stats, err := svc.CallLog.Statistics()
	if err != nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Failed to compute statistics",
			Err: err,
		})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Statistics retrieved",
		Data: stats,
	})
}

// CheckAIHealth godoc
// @Summary      Model provider health
// @Description  Send a one-line message to the model provider
// @Tags         AI
// @Produce      json
// @Success      200 {object} util.APIResponse "Connection OK"
// @Failure      502 {object} util.APIResponse "Provider unreachable"
// @Router       /ai/health [get]
func CheckAIHealth(c *gin.Context) {
	svc := middleware.GetServices(c)
	if svc == nil || svc.AI == nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "AI client not available",
			Err: fmt.Errorf("ai client is nil"),
		})
		return
	}

	if err := svc.AI.TestConnection(c.Request.Context()); err != nil {
		util.CallBadGateway(c, util.APIErrorParams{
			Msg: "AI service connection failed",
			Err: err,
		})
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "AI service connection OK",
		Data: map[string]interface{}{"connected": true},
	})
}
