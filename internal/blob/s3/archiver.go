package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/quantfall/helix/internal/domain"
)

// BlobWriter is the upload surface the archiver needs. *Writer satisfies it.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// FillSource provides read access to fills for archival purposes. The
// Postgres and memory fill logs satisfy it through their ListBefore methods.
type FillSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Fill, error)
}

// Archiver copies old fills from the primary fill log to cold object storage
// as JSONL files.
//
// Deletion of archived records from the primary store is intentionally NOT
// performed here. The fill log is append-only and authoritative; pruning it
// is a separate, explicit operation to be run after archives are verified.
type Archiver struct {
	writer BlobWriter
	fills  FillSource
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver uploading under the given key prefix
// (for example "fills").
func NewArchiver(writer BlobWriter, fills FillSource, prefix string, logger *slog.Logger) *Archiver {
	if prefix == "" {
		prefix = "fills"
	}
	return &Archiver{
		writer: writer,
		fills:  fills,
		prefix: prefix,
		logger: logger.With("component", "archiver"),
	}
}

// ArchiveFills queries all fills before the cutoff, serialises them to JSONL,
// and uploads the file. Returns the number of fills archived; zero with a nil
// error means there was nothing to archive.
func (a *Archiver) ArchiveFills(ctx context.Context, before time.Time) (int64, error) {
	fills, err := a.fills.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills query: %w", err)
	}
	if len(fills) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(fills)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive fills marshal: %w", err)
	}

	path := a.archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive fills upload: %w", err)
	}

	count := int64(len(fills))
	a.logger.Info("archived fills",
		"path", path,
		"count", count,
		"before", before.Format(time.RFC3339))

	return count, nil
}

// Run archives fills older than the retention cutoff at the given interval
// until the context is cancelled. Errors are logged and do not stop the loop.
func (a *Archiver) Run(ctx context.Context, interval time.Duration, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention)
			if _, err := a.ArchiveFills(ctx, cutoff); err != nil {
				a.logger.Error("archive run failed", "error", err)
			}
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// cutoff date:
//
//	fills/2026/08/30/fills-1756500000.jsonl
func (a *Archiver) archivePath(before time.Time) string {
	return fmt.Sprintf("%s/%s/fills-%d.jsonl",
		a.prefix, before.UTC().Format("2006/01/02"), before.Unix())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
