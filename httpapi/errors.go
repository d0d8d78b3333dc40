package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/projectpulse/ingest/core"
)

type errorBody struct {
	Message  string `json:"message"`
	TextCode string `json:"textCode"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func respondError(c *gin.Context, status int, err error) {
	mapped := core.MapError(err)
	if status <= 0 {
		status = core.HTTPStatus(mapped)
	}
	c.JSON(status, errorEnvelope{
		Error: errorBody{
			Message:  mapped.Message,
			TextCode: mapped.TextCode,
		},
	})
}
