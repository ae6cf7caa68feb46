package storage

import (
	"log/slog"
	"sync"
)

// WriterRegistry holds one JSONLWriter per host directory.
type WriterRegistry struct {
	baseDir    string
	fileBase   string
	maxSizeMB  int
	bufferSize int

	writers map[string]*JSONLWriter
	mu      sync.RWMutex
}

func NewWriterRegistry(baseDir, fileBase string, bufferSize, maxSizeMB int) *WriterRegistry {
	return &WriterRegistry{
		baseDir:    baseDir,
		fileBase:   fileBase,
		maxSizeMB:  maxSizeMB,
		bufferSize: bufferSize,
		writers:    make(map[string]*JSONLWriter),
	}
}

// GetWriter returns (or creates) the writer for a host segment.
func (r *WriterRegistry) GetWriter(hostSegment string) *JSONLWriter {
	r.mu.RLock()
	writer, ok := r.writers[hostSegment]
	r.mu.RUnlock()
	if ok {
		return writer
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if writer, ok := r.writers[hostSegment]; ok {
		return writer
	}

	writer = NewJSONLWriter(r.baseDir, hostSegment, r.fileBase, r.bufferSize, r.maxSizeMB)
	r.writers[hostSegment] = writer
	slog.Info("Created new JSONL writer", "host", hostSegment)
	return writer
}

func (r *WriterRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.writers)
}

// Close closes all managed writers.
func (r *WriterRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for host, writer := range r.writers {
		if err := writer.Close(); err != nil {
			slog.Error("Failed to close writer", "host", host, "error", err)
			lastErr = err
		}
	}
	r.writers = make(map[string]*JSONLWriter)
	return lastErr
}
