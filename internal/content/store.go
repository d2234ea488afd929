// Package content persists the raw bytes behind versions and hands out opaque references to them.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	// ErrNotFound indicates that no bytes are stored under the reference.
	ErrNotFound = errors.New("content: not found")
	// ErrInvalidReference indicates a malformed content reference.
	ErrInvalidReference = errors.New("content: invalid reference")
)

const defaultExtension = ".bin"

// Store saves, reads and deletes raw content bytes.
type Store interface {
	// Save durably writes data for the owner's version and returns its reference.
	Save(ctx context.Context, data []byte, ownerID, versionID string) (string, error)
	// Read returns the bytes stored under ref or ErrNotFound.
	Read(ctx context.Context, ref string) ([]byte, error)
	// Delete removes the bytes stored under ref. Deleting a missing reference succeeds.
	Delete(ctx context.Context, ref string) error
}

// ReferenceFor derives the reference "{ownerID}_{versionID}{ext}" with the extension sniffed from data.
func ReferenceFor(ownerID, versionID string, data []byte) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	versionID = strings.TrimSpace(versionID)
	if ownerID == "" || versionID == "" {
		return "", fmt.Errorf("%w: owner and version ids are required", ErrInvalidReference)
	}
	ref := ownerID + "_" + versionID + ExtensionFor(data)
	if err := ValidateReference(ref); err != nil {
		return "", err
	}
	return ref, nil
}

// ExtensionFor returns the file extension matching the detected media type of data.
func ExtensionFor(data []byte) string {
	extension := mimetype.Detect(data).Extension()
	if extension == "" {
		return defaultExtension
	}
	return extension
}

// MediaType returns the detected media type of data.
func MediaType(data []byte) string {
	return mimetype.Detect(data).String()
}

// ValidateReference rejects references that could escape the store's namespace.
func ValidateReference(ref string) error {
	if strings.TrimSpace(ref) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidReference)
	}
	if strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return nil
}
