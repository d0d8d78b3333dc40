package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/refresh"
)

// RefreshHandler triggers subscription rotation on demand. The endpoint
// is operator-facing and guarded by a dedicated bearer secret, distinct
// from the per-event signature secrets.
type RefreshHandler struct {
	secret     string
	refreshers map[core.Source]*refresh.Refresher
	telemetry  *core.Telemetry
}

func NewRefreshHandler(secret string, refreshers map[core.Source]*refresh.Refresher, telemetry *core.Telemetry) *RefreshHandler {
	return &RefreshHandler{
		secret:     strings.TrimSpace(secret),
		refreshers: refreshers,
		telemetry:  telemetry,
	}
}

type refreshResult struct {
	Status         string     `json:"status"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	Expiry         *time.Time `json:"expiry,omitempty"`
}

func (h *RefreshHandler) HandleRefresh(c *gin.Context) {
	ctx := c.Request.Context()

	if h.secret == "" {
		respondError(c, http.StatusInternalServerError,
			core.NewConfigError("httpapi: refresh trigger secret is not configured"))
		return
	}
	if !h.authorized(c.GetHeader("Authorization")) {
		respondError(c, http.StatusUnauthorized,
			core.NewUnauthorizedError("httpapi: invalid refresh trigger credentials"))
		return
	}

	targets := h.refreshers
	if requested := strings.TrimSpace(c.Query("source")); requested != "" {
		source, err := core.ParseSource(requested)
		if err != nil {
			respondError(c, http.StatusBadRequest, core.MapError(err))
			return
		}
		refresher, ok := h.refreshers[source]
		if !ok {
			respondError(c, http.StatusBadRequest,
				core.NewConfigError("httpapi: no refresher configured for source "+requested))
			return
		}
		targets = map[core.Source]*refresh.Refresher{source: refresher}
	}

	results := make(map[string]refreshResult, len(targets))
	failed := false
	for source, refresher := range targets {
		result, err := refresher.Run(ctx)
		if err != nil {
			failed = true
		}
		results[string(source)] = refreshResult{
			Status:         result.Status,
			SubscriptionID: result.SubscriptionID,
			Expiry:         result.Expiry,
		}
	}

	status := http.StatusOK
	if failed {
		status = http.StatusInternalServerError
	}
	c.JSON(status, gin.H{"results": results})
}

func (h *RefreshHandler) authorized(header string) bool {
	token, ok := strings.CutPrefix(strings.TrimSpace(header), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(h.secret)) == 1
}
