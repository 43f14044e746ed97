package jetstream

import (
	"log/slog"
)

// Defaults from spec: a 100 MiB read buffer cap and 4 KiB recv chunks.
const (
	DefaultMaxBufferSize = 100 * 1024 * 1024
	DefaultReadChunkSize = 4096
)

// StreamOptions configures a Stream's buffering and logging behavior.
type StreamOptions struct {
	MaxBufferSize int
	ReadChunkSize int
	Logger        *slog.Logger
}

var defaultStreamOptions = StreamOptions{
	MaxBufferSize: DefaultMaxBufferSize,
	ReadChunkSize: DefaultReadChunkSize,
	Logger:        slog.Default(),
}

// StreamOption configures a Stream at construction time.
type StreamOption func(*StreamOptions)

// WithMaxBufferSize caps the total bytes a Stream will buffer from its peer
// before closing (spec default 100 MiB).
func WithMaxBufferSize(n int) StreamOption {
	return func(o *StreamOptions) { o.MaxBufferSize = n }
}

// WithReadChunkSize sets the size of each recv() attempt (spec default 4 KiB).
func WithReadChunkSize(n int) StreamOption {
	return func(o *StreamOptions) { o.ReadChunkSize = n }
}

// WithLogger attaches a structured logger; defaults to slog.Default().
func WithLogger(l *slog.Logger) StreamOption {
	return func(o *StreamOptions) { o.Logger = l }
}
