package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/gin-gonic/gin"
)

func listQueryFrom(c *gin.Context) archive.ListQuery {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))
	return archive.ListQuery{Page: page, PageSize: pageSize}
}

// tagsFrom accepts both ?tags=a,b and repeated ?tags= parameters.
func tagsFrom(c *gin.Context) []string {
	var tags []string
	for _, raw := range c.QueryArray("tags") {
		for _, name := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				tags = append(tags, trimmed)
			}
		}
	}
	return tags
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	list, err := h.archive.ListDocuments(c.Request.Context(), currentUserID(c), archive.DocumentFilter{Tags: tagsFrom(c)}, listQueryFrom(c))
	if err != nil {
		h.respondError(c, "documents.list_failed", err)
		return
	}
	items := make([]documentPayload, 0, len(list.Items))
	for _, summary := range list.Items {
		items = append(items, newDocumentSummaryPayload(summary))
	}
	c.JSON(http.StatusOK, listPayload[documentPayload]{
		Items:      items,
		TotalCount: list.TotalCount,
		Page:       list.Query.Page,
		PageSize:   list.Query.PageSize,
	})
}

func (h *httpHandler) handleCreateDocument(c *gin.Context) {
	var request titlePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	document, err := h.archive.CreateDocument(c.Request.Context(), userID, request.Title, nil)
	if err != nil {
		h.respondError(c, "documents.create_failed", err)
		return
	}
	detail, err := h.archive.GetDocument(c.Request.Context(), userID, document.DocumentID)
	if err != nil {
		h.respondError(c, "documents.get_failed", err)
		return
	}
	c.JSON(http.StatusCreated, newDocumentDetailPayload(detail))
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	detail, err := h.archive.GetDocument(c.Request.Context(), currentUserID(c), c.Param("documentID"))
	if err != nil {
		h.respondError(c, "documents.get_failed", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentDetailPayload(detail))
}

func (h *httpHandler) handleUpdateDocument(c *gin.Context) {
	var request documentUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	detail, err := h.archive.UpdateDocument(c.Request.Context(), currentUserID(c), c.Param("documentID"), archive.DocumentUpdate{
		Title: request.Title,
		Tags:  request.Tags,
	})
	if err != nil {
		h.respondError(c, "documents.update_failed", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentDetailPayload(detail))
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	if err := h.archive.DeleteDocument(c.Request.Context(), currentUserID(c), c.Param("documentID")); err != nil {
		h.respondError(c, "documents.delete_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleAddPage(c *gin.Context) {
	var request pageReferencePayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.PageID) == "" {
		badRequest(c, "invalid_request")
		return
	}
	page, err := h.archive.AddPageToDocument(c.Request.Context(), currentUserID(c), c.Param("documentID"), request.PageID)
	if err != nil {
		h.respondError(c, "documents.add_page_failed", err)
		return
	}
	c.JSON(http.StatusOK, newPagePayload(page))
}

func (h *httpHandler) handleRemovePage(c *gin.Context) {
	err := h.archive.RemovePageFromDocument(c.Request.Context(), currentUserID(c), c.Param("documentID"), c.Param("pageID"))
	if err != nil {
		h.respondError(c, "documents.remove_page_failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSetPageOrders(c *gin.Context) {
	var request setOrdersPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	orders := make([]archive.PageOrder, 0, len(request.Orders))
	for _, entry := range request.Orders {
		orders = append(orders, archive.PageOrder{PageID: entry.PageID, Order: entry.Order})
	}
	pages, err := h.archive.Sequencer().SetPageOrders(c.Request.Context(), currentUserID(c), c.Param("documentID"), orders)
	if err != nil {
		h.respondError(c, "sequencer.set_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": newPagePayloads(pages)})
}

func (h *httpHandler) handleInsertPage(c *gin.Context) {
	var request insertPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	pages, err := h.archive.Sequencer().InsertPageAt(c.Request.Context(), currentUserID(c), c.Param("documentID"), c.Param("pageID"), request.Order)
	if err != nil {
		h.respondError(c, "sequencer.insert_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pages": newPagePayloads(pages)})
}

func (h *httpHandler) handleListDocumentVersions(c *gin.Context) {
	versions, err := h.archive.ListDocumentVersions(c.Request.Context(), currentUserID(c), c.Param("documentID"))
	if err != nil {
		h.respondError(c, "documents.list_versions_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": newVersionPayloads(versions)})
}

func (h *httpHandler) handleRevertDocument(c *gin.Context) {
	var request revertPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.VersionID) == "" {
		badRequest(c, "invalid_request")
		return
	}
	userID := currentUserID(c)
	documentID := c.Param("documentID")
	if err := h.archive.RevertDocument(c.Request.Context(), userID, documentID, request.VersionID); err != nil {
		h.respondError(c, "documents.revert_failed", err)
		return
	}
	detail, err := h.archive.GetDocument(c.Request.Context(), userID, documentID)
	if err != nil {
		h.respondError(c, "documents.get_failed", err)
		return
	}
	c.JSON(http.StatusOK, newDocumentDetailPayload(detail))
}

func (h *httpHandler) handleStitchDocument(c *gin.Context) {
	h.submitStitch(c, archive.DocumentOwner(c.Param("documentID")))
}
