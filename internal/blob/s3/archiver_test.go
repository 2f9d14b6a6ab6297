package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/helix/internal/domain"
)

type captureWriter struct {
	path        string
	contentType string
	body        []byte
	calls       int
}

func (w *captureWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.calls++
	w.path = path
	w.contentType = contentType
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.body = body
	return nil
}

type stubFillSource struct {
	fills []domain.Fill
}

func (s *stubFillSource) ListBefore(_ context.Context, before time.Time) ([]domain.Fill, error) {
	var out []domain.Fill
	for _, f := range s.fills {
		if f.Timestamp.Before(before) {
			out = append(out, f)
		}
	}
	return out, nil
}

func TestArchiveFillsWritesJSONL(t *testing.T) {
	old := domain.Fill{
		OrderID:   "ord-1",
		Symbol:    "BTC-USD",
		Side:      domain.OrderSideBuy,
		Quantity:  decimal.NewFromFloat(0.5),
		Price:     decimal.NewFromInt(50000),
		Status:    domain.FillStatusFilled,
		Timestamp: time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC),
	}
	recent := old
	recent.OrderID = "ord-2"
	recent.Timestamp = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	w := &captureWriter{}
	a := NewArchiver(w, &stubFillSource{fills: []domain.Fill{old, recent}}, "fills", slog.Default())

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	count, err := a.ArchiveFills(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, "application/x-ndjson", w.contentType)
	assert.Equal(t, "fills/2026/03/01/fills-"+
		"1772323200.jsonl", w.path)

	// Exactly one JSONL line, round-trippable.
	scanner := bufio.NewScanner(bytes.NewReader(w.body))
	require.True(t, scanner.Scan())
	var got domain.Fill
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
	assert.Equal(t, "ord-1", got.OrderID)
	assert.False(t, scanner.Scan())
}

func TestArchiveFillsNothingToArchive(t *testing.T) {
	w := &captureWriter{}
	a := NewArchiver(w, &stubFillSource{}, "fills", slog.Default())

	count, err := a.ArchiveFills(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, w.calls, "no upload when there is nothing to archive")
}
