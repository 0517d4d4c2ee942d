package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ariebrainware/tcm-diagnosis/consultation"
	"github.com/ariebrainware/tcm-diagnosis/middleware"
	"github.com/ariebrainware/tcm-diagnosis/util"
)

// helper: ensure services are available in context or respond with server error
func ensureServices(c *gin.Context) (*middleware.Services, bool) {
	svc := middleware.GetServices(c)
	if svc == nil || svc.Consultations == nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Service not available",
			Err: fmt.Errorf("services are nil"),
		})
		return nil, false
	}
	return svc, true
}

// helper: parse the :id path parameter or respond with user error
func getIDParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid consultation ID",
			Err: fmt.Errorf("invalid id %q", c.Param("id")),
		})
		return 0, false
	}
	return uint(id), true
}

// helper: map lifecycle errors onto the response envelope
func respondConsultationError(c *gin.Context, msg string, err error) {
	params := util.APIErrorParams{Msg: msg, Err: err}
	switch {
	case errors.Is(err, consultation.ErrNotFound):
		params.Msg = "Consultation not found"
		util.CallErrorNotFound(c, params)
	case errors.Is(err, consultation.ErrHerbNotFound):
		util.CallErrorNotFound(c, params)
	case errors.Is(err, consultation.ErrAlreadySubmitted),
		errors.Is(err, consultation.ErrNotRetryable),
		errors.Is(err, consultation.ErrNotCompleted):
		util.CallConflict(c, params)
	default:
		util.CallServerError(c, params)
	}
}

// helper: respond with a status view. A failed pipeline run still carries
// the view so the caller sees the failure reason.
func respondStatusView(c *gin.Context, msg string, view consultation.StatusView, err error) {
	if err == nil {
		util.CallSuccessOK(c, util.APISuccessParams{Msg: msg, Data: view})
		return
	}
	if view.ID == 0 {
		respondConsultationError(c, "Failed to run diagnosis", err)
		return
	}
	c.JSON(http.StatusBadGateway, util.APIResponse{
		Success: false,
		Error:   err.Error(),
		Msg:     "Diagnosis failed",
		Data:    view,
	})
}
