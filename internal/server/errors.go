package server

import (
	"errors"
	"net/http"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type coder interface {
	Code() string
}

// respondError maps the error taxonomy onto HTTP statuses. The body carries the stable error code.
func (h *httpHandler) respondError(c *gin.Context, fallbackCode string, err error) {
	code := fallbackCode
	var coded coder
	if errors.As(err, &coded) && coded.Code() != "" {
		code = coded.Code()
	}

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, archive.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, archive.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("code", code),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func badRequest(c *gin.Context, code string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": code})
}
