package adaptor

import (
	"context"
	"sync"

	"github.com/Laisky/errors/v2"
)

// Metadata is what a streaming call reports after its stream terminates. It
// carries the same fields as a non-streaming Response plus the error, if the
// stream died mid-flight.
type Metadata struct {
	Response
	DispatchMode string
	Err          error
}

// MetadataFuture resolves exactly once when a stream's metadata is known,
// even on early termination, so downstream accounting is never orphaned.
type MetadataFuture struct {
	once sync.Once
	done chan struct{}
	meta Metadata
}

// NewMetadataFuture returns an unresolved future.
func NewMetadataFuture() *MetadataFuture {
	return &MetadataFuture{done: make(chan struct{})}
}

// Resolve publishes the metadata. Only the first call wins.
func (f *MetadataFuture) Resolve(meta Metadata) {
	f.once.Do(func() {
		f.meta = meta
		close(f.done)
	})
}

// Wait blocks until the future resolves or ctx expires.
func (f *MetadataFuture) Wait(ctx context.Context) (Metadata, error) {
	select {
	case <-f.done:
		return f.meta, nil
	case <-ctx.Done():
		return Metadata{}, errors.Wrap(ctx.Err(), "wait stream metadata")
	}
}
