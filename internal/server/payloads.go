package server

import (
	"encoding/json"
	"time"

	"github.com/MarcoPoloResearchLab/folio/internal/archive"
	"github.com/MarcoPoloResearchLab/folio/internal/jobs"
)

type pagePayload struct {
	PageID           string    `json:"page_id"`
	Title            string    `json:"title"`
	DocumentID       *string   `json:"document_id"`
	Order            int       `json:"order"`
	CurrentVersionID *string   `json:"current_version_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newPagePayload(page archive.Page) pagePayload {
	return pagePayload{
		PageID:           page.PageID,
		Title:            page.Title,
		DocumentID:       page.DocumentID,
		Order:            page.Order,
		CurrentVersionID: page.CurrentVersionID,
		CreatedAt:        page.CreatedAt,
		UpdatedAt:        page.UpdatedAt,
	}
}

func newPagePayloads(pages []archive.Page) []pagePayload {
	payloads := make([]pagePayload, 0, len(pages))
	for _, page := range pages {
		payloads = append(payloads, newPagePayload(page))
	}
	return payloads
}

type documentPayload struct {
	DocumentID       string        `json:"document_id"`
	Title            string        `json:"title"`
	CurrentVersionID *string       `json:"current_version_id"`
	Tags             []string      `json:"tags"`
	PageCount        *int64        `json:"page_count,omitempty"`
	Pages            []pagePayload `json:"pages,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func tagNames(tags []archive.Tag) []string {
	names := make([]string, 0, len(tags))
	for _, tag := range tags {
		names = append(names, tag.Name)
	}
	return names
}

func newDocumentDetailPayload(detail archive.DocumentDetail) documentPayload {
	return documentPayload{
		DocumentID:       detail.Document.DocumentID,
		Title:            detail.Document.Title,
		CurrentVersionID: detail.Document.CurrentVersionID,
		Tags:             tagNames(detail.Tags),
		Pages:            newPagePayloads(detail.Pages),
		CreatedAt:        detail.Document.CreatedAt,
		UpdatedAt:        detail.Document.UpdatedAt,
	}
}

func newDocumentSummaryPayload(summary archive.DocumentSummary) documentPayload {
	pageCount := summary.PageCount
	return documentPayload{
		DocumentID:       summary.Document.DocumentID,
		Title:            summary.Document.Title,
		CurrentVersionID: summary.Document.CurrentVersionID,
		Tags:             tagNames(summary.Tags),
		PageCount:        &pageCount,
		CreatedAt:        summary.Document.CreatedAt,
		UpdatedAt:        summary.Document.UpdatedAt,
	}
}

type listPayload[T any] struct {
	Items      []T   `json:"items"`
	TotalCount int64 `json:"total_count"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
}

type versionPayload struct {
	VersionID     string          `json:"version_id"`
	OwnerKind     string          `json:"owner_kind"`
	OwnerID       string          `json:"owner_id"`
	VersionNumber int             `json:"version_number"`
	Message       *string         `json:"message"`
	Recognition   json.RawMessage `json:"recognition,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func newVersionPayload(version archive.Version) versionPayload {
	payload := versionPayload{
		VersionID:     version.VersionID,
		OwnerKind:     string(version.OwnerKind),
		OwnerID:       version.OwnerID,
		VersionNumber: version.VersionNumber,
		Message:       version.Message,
		CreatedAt:     version.CreatedAt,
	}
	if version.RecognitionJSON != nil && json.Valid([]byte(*version.RecognitionJSON)) {
		payload.Recognition = json.RawMessage(*version.RecognitionJSON)
	}
	return payload
}

func newVersionPayloads(versions []archive.Version) []versionPayload {
	payloads := make([]versionPayload, 0, len(versions))
	for _, version := range versions {
		payloads = append(payloads, newVersionPayload(version))
	}
	return payloads
}

type jobPayload struct {
	JobID              string      `json:"job_id"`
	Type               jobs.Type   `json:"type"`
	Status             jobs.Status `json:"status"`
	AssociatedEntityID string      `json:"associated_entity_id"`
	SubmittedAt        time.Time   `json:"submitted_at"`
	StartedAt          *time.Time  `json:"started_at"`
	CompletedAt        *time.Time  `json:"completed_at"`
	ErrorMessage       *string     `json:"error_message"`
}

func newJobPayload(job jobs.Job) jobPayload {
	return jobPayload{
		JobID:              job.JobID,
		Type:               job.Type,
		Status:             job.Status,
		AssociatedEntityID: job.AssociatedEntityID,
		SubmittedAt:        job.SubmittedAt,
		StartedAt:          job.StartedAt,
		CompletedAt:        job.CompletedAt,
		ErrorMessage:       job.ErrorMessage,
	}
}

type searchHitPayload struct {
	Page           pagePayload `json:"page"`
	MatchedVersion *string     `json:"matched_version_id"`
}

type statsPayload struct {
	Documents int64 `json:"documents"`
	Pages     int64 `json:"pages"`
	Versions  int64 `json:"versions"`
}

type titlePayload struct {
	Title string `json:"title"`
}

type documentUpdatePayload struct {
	Title *string   `json:"title"`
	Tags  *[]string `json:"tags"`
}

type pageReferencePayload struct {
	PageID string `json:"page_id"`
}

type pageOrderPayload struct {
	PageID string `json:"page_id"`
	Order  int    `json:"order"`
}

type setOrdersPayload struct {
	Orders []pageOrderPayload `json:"orders"`
}

type insertPayload struct {
	Order int `json:"order"`
}

type revertPayload struct {
	VersionID string `json:"version_id"`
}

type stitchPayload struct {
	SourceVersionIDs []string `json:"source_version_ids"`
}
