package handler

import (
	"context"
	"net/http"
	"time"

	s3blob "github.com/quantfall/helix/internal/blob/s3"
)

// ArchiveLister lists archived fill batches in cold storage.
type ArchiveLister interface {
	List(ctx context.Context, prefix string) ([]s3blob.BlobInfo, error)
}

// ArchivesHandler serves the archived fill batch listing.
type ArchivesHandler struct {
	lister ArchiveLister
	prefix string
}

// NewArchivesHandler creates an ArchivesHandler listing under the given
// archive prefix.
func NewArchivesHandler(lister ArchiveLister, prefix string) *ArchivesHandler {
	return &ArchivesHandler{lister: lister, prefix: prefix}
}

type archiveInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ListArchives responds with all archived fill batches.
// GET /api/archives
func (h *ArchivesHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	infos, err := h.lister.List(r.Context(), h.prefix)
	if err != nil {
		writeError(w, http.StatusBadGateway, "archive listing unavailable")
		return
	}

	out := make([]archiveInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, archiveInfo{
			Path:         info.Path,
			Size:         info.Size,
			LastModified: info.LastModified,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"archives": out,
		"count":    len(out),
	})
}
