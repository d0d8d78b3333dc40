package httpapi

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/pipeline"
)

// maxDeliveryBodyBytes bounds inbound webhook payloads. Upstreams cap
// their own delivery sizes well below this.
const maxDeliveryBodyBytes = 5 << 20

// WebhookHandler adapts raw HTTP deliveries into pipeline deliveries.
// All decisions live in the processor; this layer only moves bytes.
type WebhookHandler struct {
	processor *pipeline.Processor
	telemetry *core.Telemetry
}

func NewWebhookHandler(processor *pipeline.Processor, telemetry *core.Telemetry) *WebhookHandler {
	return &WebhookHandler{processor: processor, telemetry: telemetry}
}

func (h *WebhookHandler) HandleDelivery(source core.Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxDeliveryBodyBytes))
		if err != nil {
			respondError(c, http.StatusBadRequest, core.NewInvalidBodyError("httpapi: read request body"))
			return
		}

		headers := make(map[string]string, len(c.Request.Header))
		for key, values := range c.Request.Header {
			if len(values) > 0 {
				headers[key] = values[0]
			}
		}

		outcome, err := h.processor.Process(ctx, pipeline.Delivery{
			Source:  source,
			Body:    body,
			Headers: headers,
		})
		if err != nil {
			status := outcome.StatusCode
			if status <= 0 {
				status = core.HTTPStatus(err)
			}
			respondError(c, status, err)
			return
		}

		response := gin.H{
			"status":  outcome.Status,
			"eventId": outcome.EventID,
		}
		for key, value := range outcome.Metadata {
			response[key] = value
		}
		c.JSON(outcome.StatusCode, response)
	}
}
