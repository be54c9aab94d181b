package handlers

import (
	"context"
	"strconv"

	"github.com/amirphl/yamata-dialer/app/dto"
	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// CallCampaignHandlerInterface defines the contract for call campaign handlers
type CallCampaignHandlerInterface interface {
	CreateCampaign(c fiber.Ctx) error
	GetCampaign(c fiber.Ctx) error
	ListCampaigns(c fiber.Ctx) error
	UpdateCampaign(c fiber.Ctx) error
	EnrollTargets(c fiber.Ctx) error
	EnrollFromContacts(c fiber.Ctx) error
	StartCampaign(c fiber.Ctx) error
	PauseCampaign(c fiber.Ctx) error
	CancelCampaign(c fiber.Ctx) error
	ListTargets(c fiber.Ctx) error
	ExportTargets(c fiber.Ctx) error
}

// CallCampaignHandler handles call campaign HTTP requests of authenticated agents
type CallCampaignHandler struct {
	campaignFlow businessflow.CallCampaignFlow
	validator    *validator.Validate
	logger       *zap.Logger
}

func (h *CallCampaignHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *CallCampaignHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// NewCallCampaignHandler creates a new call campaign handler
func NewCallCampaignHandler(campaignFlow businessflow.CallCampaignFlow, logger *zap.Logger) *CallCampaignHandler {
	return &CallCampaignHandler{
		campaignFlow: campaignFlow,
		validator:    validator.New(),
		logger:       logger.Named("call_campaign_handler"),
	}
}

// CreateCampaign handles call campaign creation
// @Summary Create Call Campaign
// @Tags Call Campaigns
// @Accept json
// @Produce json
// @Param request body dto.CreateCallCampaignRequest true "Campaign settings"
// @Success 201 {object} dto.APIResponse{data=dto.CreateCallCampaignResponse}
// @Failure 400 {object} dto.APIResponse "Validation error or invalid request"
// @Failure 401 {object} dto.APIResponse "Unauthorized"
// @Router /api/v1/call-campaigns [post]
func (h *CallCampaignHandler) CreateCampaign(c fiber.Ctx) error {
	var req dto.CreateCallCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	if err := h.validate(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err)
	}

	agentID, ok := agentIDFrom(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Agent ID not found in context", "MISSING_AGENT_ID", nil)
	}
	req.AgentID = agentID

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns")
	defer cancel()

	result, err := h.campaignFlow.CreateCampaign(ctx, &req)
	if err != nil {
		return h.handleFlowError(c, err, "Campaign creation failed", "CAMPAIGN_CREATION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Call campaign created successfully", result)
}

// GetCampaign returns one campaign with its target counts
// @Summary Get Call Campaign
// @Tags Call Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CallCampaignResponse}
// @Failure 403 {object} dto.APIResponse "Campaign belongs to another agent"
// @Failure 404 {object} dto.APIResponse "Campaign not found"
// @Router /api/v1/call-campaigns/{uuid} [get]
func (h *CallCampaignHandler) GetCampaign(c fiber.Ctx) error {
	req, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.CampaignUUID)
	defer cancel()

	result, err := h.campaignFlow.GetCampaign(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to get campaign", "GET_CAMPAIGN_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign retrieved successfully", result)
}

// ListCampaigns returns the agent's campaigns, newest first
// @Summary List Call Campaigns
// @Tags Call Campaigns
// @Produce json
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page (max 100)" default(20)
// @Param status query string false "Filter by status (draft|running|paused|completed)"
// @Success 200 {object} dto.APIResponse{data=dto.ListCallCampaignsResponse}
// @Router /api/v1/call-campaigns [get]
func (h *CallCampaignHandler) ListCampaigns(c fiber.Ctx) error {
	agentID, ok := agentIDFrom(c)
	if !ok {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Agent ID not found in context", "MISSING_AGENT_ID", nil)
	}

	req := &dto.ListCallCampaignsRequest{
		AgentID:  agentID,
		Page:     queryInt(c, "page", 1),
		PageSize: queryInt(c, "page_size", 20),
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if err := h.validate(req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns")
	defer cancel()

	result, err := h.campaignFlow.ListCampaigns(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to list campaigns", "LIST_CAMPAIGNS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaigns retrieved successfully", result)
}

// UpdateCampaign patches a draft or paused campaign
// @Summary Update Call Campaign
// @Tags Call Campaigns
// @Accept json
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param request body dto.UpdateCallCampaignRequest true "Fields to change"
// @Success 200 {object} dto.APIResponse{data=dto.CallCampaignResponse}
// @Failure 409 {object} dto.APIResponse "Campaign cannot be updated in its current status"
// @Router /api/v1/call-campaigns/{uuid} [put]
func (h *CallCampaignHandler) UpdateCampaign(c fiber.Ctx) error {
	action, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	var req dto.UpdateCallCampaignRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.UUID = action.CampaignUUID
	req.AgentID = action.AgentID
	if err := h.validate(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.UUID)
	defer cancel()

	result, err := h.campaignFlow.UpdateCampaign(ctx, &req)
	if err != nil {
		return h.handleFlowError(c, err, "Campaign update failed", "CAMPAIGN_UPDATE_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Campaign updated successfully", result)
}

// EnrollTargets enrolls explicit phone numbers. Either every number is enrolled or none is.
// @Summary Enroll Call Targets
// @Tags Call Campaigns
// @Accept json
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param request body dto.EnrollTargetsRequest true "Phone numbers"
// @Success 201 {object} dto.APIResponse{data=dto.EnrollTargetsResponse}
// @Failure 400 {object} dto.APIResponse "Invalid phone number"
// @Failure 409 {object} dto.APIResponse "Phone number already enrolled"
// @Router /api/v1/call-campaigns/{uuid}/targets [post]
func (h *CallCampaignHandler) EnrollTargets(c fiber.Ctx) error {
	action, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	var req dto.EnrollTargetsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.CampaignUUID = action.CampaignUUID
	req.AgentID = action.AgentID
	if err := h.validate(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.CampaignUUID+"/targets")
	defer cancel()

	result, err := h.campaignFlow.EnrollTargets(ctx, &req)
	if err != nil {
		return h.handleFlowError(c, err, "Target enrollment failed", "ENROLLMENT_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Targets enrolled successfully", result)
}

// EnrollFromContacts enrolls the contacts of the campaign's property whose role it targets
// @Summary Enroll Call Targets From Contacts
// @Tags Call Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 201 {object} dto.APIResponse{data=dto.EnrollTargetsResponse}
// @Router /api/v1/call-campaigns/{uuid}/targets/from-contacts [post]
func (h *CallCampaignHandler) EnrollFromContacts(c fiber.Ctx) error {
	req, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.CampaignUUID+"/targets/from-contacts")
	defer cancel()

	result, err := h.campaignFlow.EnrollFromContacts(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Contact enrollment failed", "ENROLLMENT_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Contacts enrolled successfully", result)
}

// StartCampaign moves a draft or paused campaign to running
// @Summary Start Call Campaign
// @Tags Call Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignActionResponse}
// @Failure 409 {object} dto.APIResponse "Invalid status transition or no targets"
// @Router /api/v1/call-campaigns/{uuid}/start [post]
func (h *CallCampaignHandler) StartCampaign(c fiber.Ctx) error {
	return h.runAction(c, "start", h.campaignFlow.StartCampaign)
}

// PauseCampaign stops dispatching for a running campaign. Calls in flight still reconcile.
// @Summary Pause Call Campaign
// @Tags Call Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignActionResponse}
// @Router /api/v1/call-campaigns/{uuid}/pause [post]
func (h *CallCampaignHandler) PauseCampaign(c fiber.Ctx) error {
	return h.runAction(c, "pause", h.campaignFlow.PauseCampaign)
}

// CancelCampaign cancels pending targets and completes the campaign
// @Summary Cancel Call Campaign
// @Tags Call Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Success 200 {object} dto.APIResponse{data=dto.CampaignActionResponse}
// @Router /api/v1/call-campaigns/{uuid}/cancel [post]
func (h *CallCampaignHandler) CancelCampaign(c fiber.Ctx) error {
	return h.runAction(c, "cancel", h.campaignFlow.CancelCampaign)
}

// ListTargets pages through a campaign's targets
// @Summary List Call Targets
// @Tags Call Campaigns
// @Produce json
// @Param uuid path string true "Campaign UUID"
// @Param page query int false "Page number" default(1)
// @Param page_size query int false "Items per page (max 500)" default(50)
// @Param status query string false "Filter by target status"
// @Success 200 {object} dto.APIResponse{data=dto.ListCallTargetsResponse}
// @Router /api/v1/call-campaigns/{uuid}/targets [get]
func (h *CallCampaignHandler) ListTargets(c fiber.Ctx) error {
	action, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	req := &dto.ListCallTargetsRequest{
		CampaignUUID: action.CampaignUUID,
		AgentID:      action.AgentID,
		Page:         queryInt(c, "page", 1),
		PageSize:     queryInt(c, "page_size", 50),
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	if err := h.validate(req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.CampaignUUID+"/targets")
	defer cancel()

	result, err := h.campaignFlow.ListTargets(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to list targets", "LIST_TARGETS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Targets retrieved successfully", result)
}

// ExportTargets downloads every target of a campaign as a spreadsheet
// @Summary Export Call Targets
// @Tags Call Campaigns
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param uuid path string true "Campaign UUID"
// @Success 200 {file} file "xlsx workbook"
// @Router /api/v1/call-campaigns/{uuid}/targets/export [get]
func (h *CallCampaignHandler) ExportTargets(c fiber.Ctx) error {
	req, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.CampaignUUID+"/targets/export")
	defer cancel()

	filename, data, err := h.campaignFlow.ExportTargets(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Failed to export targets", "EXPORT_FAILED")
	}
	c.Set("Content-Type", xlsxContentType)
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

type campaignAction func(ctx context.Context, req *dto.CampaignActionRequest) (*dto.CampaignActionResponse, error)

func (h *CallCampaignHandler) runAction(c fiber.Ctx, name string, action campaignAction) error {
	req, errResp := h.actionRequest(c)
	if errResp != nil {
		return errResp()
	}

	ctx, cancel := createRequestContext(c, "/api/v1/call-campaigns/"+req.CampaignUUID+"/"+name)
	defer cancel()

	result, err := action(ctx, req)
	if err != nil {
		return h.handleFlowError(c, err, "Campaign "+name+" failed", "CAMPAIGN_ACTION_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, result.Message, result)
}

// actionRequest reads the campaign uuid and the authenticated agent. On failure it returns the
// response writer to call instead.
func (h *CallCampaignHandler) actionRequest(c fiber.Ctx) (*dto.CampaignActionRequest, func() error) {
	campaignUUID := c.Params("uuid")
	if campaignUUID == "" {
		return nil, func() error {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign UUID is required", "MISSING_CAMPAIGN_UUID", nil)
		}
	}
	agentID, ok := agentIDFrom(c)
	if !ok {
		return nil, func() error {
			return h.ErrorResponse(c, fiber.StatusUnauthorized, "Agent ID not found in context", "MISSING_AGENT_ID", nil)
		}
	}
	return &dto.CampaignActionRequest{CampaignUUID: campaignUUID, AgentID: agentID}, nil
}

func (h *CallCampaignHandler) validate(req any) []string {
	err := h.validator.Struct(req)
	if err == nil {
		return nil
	}
	var validationErrors []string
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, fe := range errs {
			validationErrors = append(validationErrors, getValidationErrorMessage(fe))
		}
		return validationErrors
	}
	return []string{err.Error()}
}

func (h *CallCampaignHandler) handleFlowError(c fiber.Ctx, err error, message, code string) error {
	switch {
	case businessflow.IsCampaignNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Campaign not found", "CAMPAIGN_NOT_FOUND", nil)
	case businessflow.IsCampaignAccessDenied(err):
		return h.ErrorResponse(c, fiber.StatusForbidden, "Access denied: campaign belongs to another agent", "CAMPAIGN_ACCESS_DENIED", nil)
	case businessflow.IsInvalidPhoneNumber(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid phone number", "INVALID_PHONE_NUMBER", businessflow.PhoneNumbersOf(err))
	case businessflow.IsDuplicatePhoneNumber(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Phone number already enrolled", "DUPLICATE_PHONE_NUMBER", businessflow.PhoneNumbersOf(err))
	case businessflow.IsCampaignCompleted(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign is completed", "CAMPAIGN_COMPLETED", nil)
	case businessflow.IsInvalidStatusTransition(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Invalid campaign status transition", "INVALID_STATUS_TRANSITION", err.Error())
	case businessflow.IsCampaignHasNoTargets(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign has no targets", "CAMPAIGN_HAS_NO_TARGETS", nil)
	case businessflow.IsCampaignUpdateNotAllowed(err):
		return h.ErrorResponse(c, fiber.StatusConflict, "Campaign cannot be updated in current status", "CAMPAIGN_UPDATE_NOT_ALLOWED", nil)
	case businessflow.IsCampaignPropertyRequired(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Campaign has no linked property", "CAMPAIGN_PROPERTY_REQUIRED", nil)
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", err.Error())
	}

	h.logger.Error(message, zap.String("path", c.Path()), zap.Error(err))
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}

func queryInt(c fiber.Ctx, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil {
		return v
	}
	return def
}
