package endpoint

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ariebrainware/tcm-diagnosis/consultation"
	"github.com/ariebrainware/tcm-diagnosis/model"
	"github.com/ariebrainware/tcm-diagnosis/util"
)

// CreateConsultation godoc
// @Summary      Create consultation
// @Description  Store an intake record as a new pending consultation
// @Tags         Consultation
// @Accept       json
// @Produce      json
// @Param        request body model.IntakeRecord true "Intake record"
// @Success      201 {object} util.APIResponse{data=model.Consultation} "Consultation created"
// @Failure      400 {object} util.APIResponse "Invalid request body"
// @Failure      500 {object} util.APIResponse "Server error"
// @Router       /consultation [post]
func CreateConsultation(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}

	var intake model.IntakeRecord
	if err := c.ShouldBindJSON(&intake); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid request body",
			Err: err,
		})
		return
	}
	if strings.TrimSpace(intake.ChiefComplaint) == "" {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Chief complaint is required",
			Err: fmt.Errorf("chief_complaint is empty"),
		})
		return
	}

	created, err := svc.Consultations.Create(c.Request.Context(), intake)
	if err != nil {
		respondConsultationError(c, "Failed to create consultation", err)
		return
	}

	util.CallSuccessCreated(c, util.APISuccessParams{
		Msg:  "Consultation created",
		Data: created,
	})
}

// StartDiagnosis godoc
// @Summary      Run diagnosis
// @Description  Send a pending consultation to the model and wait for the result. Submitting twice is rejected.
// @Tags         Consultation
// @Produce      json
// @Param        id path int true "Consultation ID"
// @Success      200 {object} util.APIResponse{data=consultation.StatusView} "Diagnosis completed"
// @Failure      404 {object} util.APIResponse "Consultation not found"
// @Failure      409 {object} util.APIResponse "Already submitted"
// @Failure      429 {object} util.APIResponse "Too many requests"
// @Failure      502 {object} util.APIResponse{data=consultation.StatusView} "Diagnosis failed"
// @Router       /consultation/{id}/diagnose [post]
func StartDiagnosis(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	view, err := svc.Consultations.StartDiagnosis(c.Request.Context(), id)
	respondStatusView(c, "Diagnosis completed", view, err)
}

// RetryDiagnosis godoc
// @Summary      Retry diagnosis
// @Description  Re-submit a failed consultation
// @Tags         Consultation
// @Produce      json
// @Param        id path int true "Consultation ID"
// @Success      200 {object} util.APIResponse{data=consultation.StatusView} "Diagnosis completed"
// @Failure      404 {object} util.APIResponse "Consultation not found"
// @Failure      409 {object} util.APIResponse "Consultation is not failed"
// @Failure      502 {object} util.APIResponse{data=consultation.StatusView} "Diagnosis failed"
// @Router       /consultation/{id}/retry [post]
func RetryDiagnosis(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	view, err := svc.Consultations.Retry(c.Request.Context(), id)
	respondStatusView(c, "Diagnosis completed", view, err)
}

// GetConsultationStatus godoc
// @Summary      Consultation status
// @Description  Poll the lifecycle state. Completed consultations carry a signed report link, failed ones the failure reason.
// @Tags         Consultation
// @Produce      json
// @Param        id path int true "Consultation ID"
// @Success      200 {object} util.APIResponse{data=consultation.StatusView} "Status retrieved"
// @Failure      404 {object} util.APIResponse "Consultation not found"
// @Router       /consultation/{id}/status [get]
func GetConsultationStatus(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	view, err := svc.Consultations.Status(c.Request.Context(), id)
	if err != nil {
		respondConsultationError(c, "Failed to retrieve status", err)
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Status retrieved",
		Data: view,
	})
}

// GetConsultationReport godoc
// @Summary      Consultation report
// @Description  Diagnosis and prescription of a completed consultation
// @Tags         Consultation
// @Produce      json
// @Param        id path int true "Consultation ID"
// @Param        token query string true "Signed report token"
// @Success      200 {object} util.APIResponse{data=consultation.Report} "Report retrieved"
// @Failure      401 {object} util.APIResponse "Invalid token"
// @Failure      404 {object} util.APIResponse "Consultation not found"
// @Failure      409 {object} util.APIResponse "Diagnosis not completed"
// @Router       /consultation/{id}/report [get]
func GetConsultationReport(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	if svc.Reports == nil {
		util.CallServerError(c, util.APIErrorParams{
			Msg: "Report signing not configured",
			Err: util.ErrMissingSecret,
		})
		return
	}
	if err := svc.Reports.Verify(c.Query("token"), id); err != nil {
		util.CallUserNotAuthorized(c, util.APIErrorParams{
			Msg: "Invalid report token",
			Err: err,
		})
		return
	}

	report, err := svc.Consultations.Report(c.Request.Context(), id)
	if err != nil {
		respondConsultationError(c, "Failed to retrieve report", err)
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Report retrieved",
		Data: report,
	})
}

type updateConfidenceRequest struct {
	ConfidenceScore *float64 `json:"confidence_score" binding:"required"`
}

// UpdateConfidence godoc
// @Summary      Correct confidence score
// @Description  Set the diagnosis confidence score. Values are clamped to 0..100.
// @Tags         Consultation
// @Accept       json
// @Produce      json
// @Param        id path int true "Consultation ID"
// @Param        request body updateConfidenceRequest true "Confidence score"
// @Success      200 {object} util.APIResponse{data=model.Diagnosis} "Confidence updated"
// @Failure      400 {object} util.APIResponse "Invalid request body"
// @Failure      404 {object} util.APIResponse "Consultation not found"
// @Router       /consultation/{id}/diagnosis/confidence [patch]
func UpdateConfidence(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	var req updateConfidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid request body",
			Err: err,
		})
		return
	}

	d, err := svc.Consultations.UpdateConfidence(c.Request.Context(), id, *req.ConfidenceScore)
	if err != nil {
		respondConsultationError(c, "Failed to update confidence", err)
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Confidence updated",
		Data: d,
	})
}

// EditPrescriptionHerbs godoc
// @Summary      Edit prescription herbs
// @Description  Add a herb, remove a herb, or change a herb's dosage
// @Tags         Consultation
// @Accept       json
// @Produce      json
// @Param        id path int true "Consultation ID"
// @Param        request body consultation.HerbEdit true "Herb edit"
// @Success      200 {object} util.APIResponse{data=model.Prescription} "Prescription updated"
// @Failure      400 {object} util.APIResponse "Invalid request body"
// @Failure      404 {object} util.APIResponse "Consultation or herb not found"
// @Router       /consultation/{id}/prescription/herbs [patch]
func EditPrescriptionHerbs(c *gin.Context) {
	svc, ok := ensureServices(c)
	if !ok {
		return
	}
	id, ok := getIDParam(c)
	if !ok {
		return
	}

	var edit consultation.HerbEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		util.CallUserError(c, util.APIErrorParams{
			Msg: "Invalid request body",
			Err: err,
		})
		return
	}
	edit.Name = strings.TrimSpace(edit.Name)

	p, err := svc.Consultations.EditHerbs(c.Request.Context(), id, edit)
	if err != nil {
		respondConsultationError(c, "Failed to update prescription", err)
		return
	}

	util.CallSuccessOK(c, util.APISuccessParams{
		Msg:  "Prescription updated",
		Data: p,
	})
}
