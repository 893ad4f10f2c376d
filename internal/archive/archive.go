// Package archive stores raw fetched HTML so extraction regressions can be
// replayed without refetching.
package archive

import (
	"context"
	"fmt"
	"path"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// Archiver writes page snapshots to a blob store, keyed by job and content
// hash so identical payloads land on the same object.
type Archiver struct {
	store       pipeline.BlobStore
	prefix      string
	contentType string
}

// New constructs an Archiver. A nil store disables archival.
func New(store pipeline.BlobStore, prefix, contentType string) *Archiver {
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &Archiver{store: store, prefix: prefix, contentType: contentType}
}

// Enabled reports whether snapshots will actually be written.
func (a *Archiver) Enabled() bool {
	return a != nil && a.store != nil
}

// Archive writes the snapshot and returns its URI. Disabled archivers return
// an empty URI and no error.
func (a *Archiver) Archive(ctx context.Context, jobID, contentHash string, html []byte) (string, error) {
	if !a.Enabled() {
		return "", nil
	}
	if contentHash == "" {
		return "", fmt.Errorf("content hash is required")
	}
	objectPath := path.Join(a.prefix, jobID, contentHash+".html")
	uri, err := a.store.PutObject(ctx, objectPath, a.contentType, html)
	if err != nil {
		return "", fmt.Errorf("archive snapshot: %w", err)
	}
	return uri, nil
}
