package handlers

import (
	"crypto/subtle"

	"github.com/amirphl/yamata-dialer/app/dto"
	"github.com/amirphl/yamata-dialer/app/queue"
	businessflow "github.com/amirphl/yamata-dialer/business_flow"
	"github.com/amirphl/yamata-dialer/utils"
	"github.com/gofiber/fiber/v3"
	"go.uber.org/zap"
)

// VoiceWebhookHandler receives call status callbacks from the voice provider
type VoiceWebhookHandler struct {
	outcomeFlow businessflow.CallOutcomeFlow
	publisher   queue.WebhookPublisher
	secret      string
	logger      *zap.Logger
}

// NewVoiceWebhookHandler creates the webhook handler. With a publisher, valid webhooks are
// buffered and reconciled by the queue consumer; an empty secret disables the header check.
func NewVoiceWebhookHandler(outcomeFlow businessflow.CallOutcomeFlow, publisher queue.WebhookPublisher, secret string, logger *zap.Logger) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{
		outcomeFlow: outcomeFlow,
		publisher:   publisher,
		secret:      secret,
		logger:      logger.Named("voice_webhook_handler"),
	}
}

func (h *VoiceWebhookHandler) ErrorResponse(c fiber.Ctx, statusCode int, message, errorCode string, details any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code:    errorCode,
			Details: details,
		},
	})
}

func (h *VoiceWebhookHandler) SuccessResponse(c fiber.Ctx, statusCode int, message string, data any) error {
	return c.Status(statusCode).JSON(dto.APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// ReceiveWebhook applies one provider callback
// @Summary Voice Provider Webhook
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Secret header string true "Shared webhook secret"
// @Success 200 {object} dto.APIResponse{data=dto.VoiceWebhookResponse} "Webhook applied or acknowledged"
// @Success 202 {object} dto.APIResponse{data=dto.VoiceWebhookResponse} "Webhook queued"
// @Failure 400 {object} dto.APIResponse "Body is not a JSON object"
// @Failure 401 {object} dto.APIResponse "Missing or wrong secret"
// @Router /api/v1/webhooks/voice [post]
func (h *VoiceWebhookHandler) ReceiveWebhook(c fiber.Ctx) error {
	if h.secret != "" && subtle.ConstantTimeCompare([]byte(c.Get(utils.WebhookSecretHeader)), []byte(h.secret)) != 1 {
		return h.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid webhook secret", "INVALID_WEBHOOK_SECRET", nil)
	}

	// fasthttp reuses the request buffer once the handler returns
	body := append([]byte(nil), c.Body()...)

	ctx, cancel := createRequestContext(c, "/api/v1/webhooks/voice")
	defer cancel()

	if h.publisher != nil {
		if _, err := businessflow.ParseWebhookPayload(body); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", "INVALID_WEBHOOK_PAYLOAD", err.Error())
		}
		err := h.publisher.Publish(ctx, body)
		if err == nil {
			return h.SuccessResponse(c, fiber.StatusAccepted, "Webhook queued", dto.VoiceWebhookResponse{Message: "queued", Result: "queued"})
		}
		h.logger.Warn("failed to queue webhook, reconciling inline", zap.Error(err))
	}

	result, err := h.outcomeFlow.Reconcile(ctx, body)
	if err != nil {
		if businessflow.IsInvalidWebhookPayload(err) {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid webhook payload", "INVALID_WEBHOOK_PAYLOAD", err.Error())
		}
		h.logger.Error("webhook reconciliation failed", zap.Error(err))
		return h.ErrorResponse(c, fiber.StatusInternalServerError, "Webhook reconciliation failed", "WEBHOOK_FAILED", nil)
	}

	return h.SuccessResponse(c, fiber.StatusOK, "Webhook processed", dto.VoiceWebhookResponse{
		Message: "webhook " + result.Result,
		Result:  result.Result,
	})
}
