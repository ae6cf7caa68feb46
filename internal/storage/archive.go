// Package storage archives finalized captures as JSON lines.
package storage

import (
	"log/slog"

	"github.com/dgnsrekt/reqlens/internal/types"
)

const archiveFileBase = "requests"

// Archive appends finalized requests to <dir>/<date>/<host>/requests.jsonl.
type Archive struct {
	registry *WriterRegistry
}

func NewArchive(dir string, bufferSize, maxSizeMB int) *Archive {
	return &Archive{registry: NewWriterRegistry(dir, archiveFileBase, bufferSize, maxSizeMB)}
}

// Record queues rec for writing. It never blocks.
func (a *Archive) Record(rec types.CapturedRequest) {
	host := HostSegment(rec.URL)
	if err := a.registry.GetWriter(host).Write(rec); err != nil {
		slog.Debug("Archive write skipped", "host", host, "request_id", rec.ID, "error", err)
	}
}

func (a *Archive) Close() error {
	return a.registry.Close()
}
