package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/content"
	"github.com/gin-gonic/gin"
)

const maxUploadBytes = 32 << 20

var errUploadTooLarge = fmt.Errorf("upload exceeds %d bytes", maxUploadBytes)

// readUpload returns the bytes of the "file" form field. Only images are accepted.
func readUpload(c *gin.Context) ([]byte, string, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, "missing_file", err
	}
	if header.Size > maxUploadBytes {
		return nil, "file_too_large", errUploadTooLarge
	}
	file, err := header.Open()
	if err != nil {
		return nil, "unreadable_file", err
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		return nil, "unreadable_file", err
	}
	if len(data) > maxUploadBytes {
		return nil, "file_too_large", errUploadTooLarge
	}
	if !strings.HasPrefix(content.MediaType(data), "image/") {
		return nil, "unsupported_media_type", fmt.Errorf("unsupported media type %s", content.MediaType(data))
	}
	return data, "", nil
}

func (h *httpHandler) handleListPages(c *gin.Context) {
	unassigned, _ := strconv.ParseBool(c.Query("unassigned"))
	list, err := h.archive.ListPages(c.Request.Context(), currentUserID(c), archive.PageFilter{UnassignedOnly: unassigned}, listQueryFrom(c))
	if err != nil {
		h.respondError(c, "pages.list_failed", err)
		return
	}
	c.JSON(http.StatusOK, listPayload[pagePayload]{
		Items:      newPagePayloads(list.Items),
		TotalCount: list.TotalCount,
		Page:       list.Query.Page,
		PageSize:   list.Query.PageSize,
	})
}

func (h *httpHandler) handleCreatePage(c *gin.Context) {
	data, code, err := readUpload(c)
	if err != nil {
		badRequest(c, code)
		return
	}
	page, err := h.archive.CreatePage(c.Request.Context(), currentUserID(c), c.PostForm("title"), data)
	if err != nil {
		h.respondError(c, "pages.create_failed", err)
		return
	}
	c.JSON(http.StatusCreated, newPagePayload(page))
}

func (h *httpHandler) handleSearchPages(c *gin.Context) {
	hits, err := h.archive.SearchPages(c.Request.Context(), currentUserID(c), c.Query("q"))
	if err != nil {
		h.respondError(c, "pages.search_failed", err)
		return
	}
	results := make([]searchHitPayload, 0, len(hits))
	for _, hit := range hits {
		results = append(results, searchHitPayload{Page: newPagePayload(hit.Page), MatchedVersion: hit.MatchedVersion})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *httpHandler) handleGetPage(c *gin.Context) {
	page, err := h.archive.GetPage(c.Request.Context(), currentUserID(c), c.Param("pageID"))
	if err != nil {
		h.respondError(c, "pages.get_failed", err)
		return
	}
	c.JSON(http.StatusOK, newPagePayload(page))
}

func (h *httpHandler) handleUpdatePage(c *gin.Context) {
	var request titlePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	page, err := h.archive.UpdatePageTitle(c.Request.Context(), currentUserID(c), c.Param("pageID"), request.Title)
	if err != nil {
		h.respondError(c, "pages.update_failed", err)
		return
	}
	c.JSON(http.StatusOK, newPagePayload(page))
}

func (h *httpHandler) handleDeletePage(c *gin.Context) {
	if err := h.archive.DeletePage(c.Request.Context(), currentUserID(c), c.Param("pageID")); err != nil {
		h.respondError(c, "pages.delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleCreatePageVersion(c *gin.Context) {
	data, code, err := readUpload(c)
	if err != nil {
		badRequest(c, code)
		return
	}
	version, err := h.archive.CreatePageVersion(c.Request.Context(), currentUserID(c), c.Param("pageID"), c.PostForm("message"), data)
	if err != nil {
		h.respondError(c, "pages.create_version_failed", err)
		return
	}
	c.JSON(http.StatusCreated, newVersionPayload(version))
}

func (h *httpHandler) handleListPageVersions(c *gin.Context) {
	versions, err := h.archive.ListPageVersions(c.Request.Context(), currentUserID(c), c.Param("pageID"))
	if err != nil {
		h.respondError(c, "pages.list_versions_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": newVersionPayloads(versions)})
}

func (h *httpHandler) handleRevertPage(c *gin.Context) {
	var request revertPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.VersionID) == "" {
		badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	pageID := c.Param("pageID")
	if err := h.archive.RevertPage(c.Request.Context(), userID, pageID, request.VersionID); err != nil {
		h.respondError(c, "pages.revert_failed", err)
		return
	}
	page, err := h.archive.GetPage(c.Request.Context(), userID, pageID)
	if err != nil {
		h.respondError(c, "pages.get_failed", err)
		return
	}
	c.JSON(http.StatusOK, newPagePayload(page))
}

func (h *httpHandler) handleStitchPage(c *gin.Context) {
	h.submitStitch(c, archive.PageOwner(c.Param("pageID")))
}

func (h *httpHandler) handleVersionContent(c *gin.Context) {
	version, data, err := h.archive.ReadVersionContent(c.Request.Context(), currentUserID(c), c.Param("versionID"))
	if err != nil {
		h.respondError(c, "versions.read_content_failed", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", version.ContentRef))
	c.Data(http.StatusOK, content.MediaType(data), data)
}
