package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/gin-gonic/gin"
)

func (h *httpHandler) submitStitch(c *gin.Context, target archive.OwnerRef) {
	var request stitchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	job, err := h.jobs.SubmitStitchJob(c.Request.Context(), currentUserID(c), target, request.SourceVersionIDs)
	if err != nil {
		h.respondError(c, "jobs.submit_stitch_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, newJobPayload(job))
}

func (h *httpHandler) handleSubmitOcr(c *gin.Context) {
	job, err := h.jobs.SubmitOcrJob(c.Request.Context(), currentUserID(c), c.Param("versionID"))
	if err != nil {
		h.respondError(c, "jobs.submit_ocr_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, newJobPayload(job))
}

func (h *httpHandler) handleGetJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), currentUserID(c), c.Param("jobID"))
	if err != nil {
		h.respondError(c, "jobs.get_failed", err)
		return
	}
	c.JSON(http.StatusOK, newJobPayload(job))
}

func (h *httpHandler) handleListJobs(c *gin.Context) {
	list, err := h.jobs.ListJobs(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "jobs.list_failed", err)
		return
	}
	items := make([]jobPayload, 0, len(list))
	for _, job := range list {
		items = append(items, newJobPayload(job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": items})
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	names, err := h.archive.ListTags(c.Request.Context())
	if err != nil {
		h.respondError(c, "tags.list_failed", err)
		return
	}
	if names == nil {
		names = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"tags": names})
}

func (h *httpHandler) handleStats(c *gin.Context) {
	stats, err := h.archive.UserStats(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, "stats.failed", err)
		return
	}
	c.JSON(http.StatusOK, statsPayload{Documents: stats.Documents, Pages: stats.Pages, Versions: stats.Versions})
}
