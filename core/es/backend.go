package es

import "context"

// Atomicity describes what a Backend can commit atomically.
type Atomicity uint8

const (
	// BatchAtomic backends commit all streams of a unit of work or none.
	BatchAtomic Atomicity = iota
	// StreamAtomic backends only guarantee atomicity of the append to a single stream.
	StreamAtomic
)

func (a Atomicity) String() string {
	if a == BatchAtomic {
		return "batch"
	}
	return "stream"
}

// StreamHead is the current state of a persisted stream.
type StreamHead struct {
	ID      StreamID
	Type    string
	Version Version
}

// AppendRequest appends Records to a stream that must be at version Expected.
type AppendRequest struct {
	StreamID StreamID
	Type     string
	Expected Version
	Records  []Record
}

// BackendReader reads stream heads.
type BackendReader interface {
	// Head returns the head of stream id, or false when the stream does not exist.
	Head(ctx context.Context, id StreamID) (StreamHead, bool, error)
}

// BackendTx is the write side of a Backend, valid inside Backend.Write.
type BackendTx interface {
	BackendReader
	// CompareAndAppend atomically appends req.Records if the stream is still at
	// req.Expected, otherwise it returns ErrVersionConflict.
	CompareAndAppend(ctx context.Context, req AppendRequest) error
}

// Backend is the physical storage of an EventStore.
// Implementations only differ in how they read heads, compare-and-append and read
// ranges; every enforcement rule lives in EventStore.
type Backend interface {
	BackendReader
	// ReadRange returns the records of stream id with from <= version <= to, ordered
	// by version. to == 0 means no upper bound.
	ReadRange(ctx context.Context, id StreamID, from, to Version) ([]Record, error)
	// StreamIDs lists the streams of type streamType, all streams when it is empty.
	StreamIDs(ctx context.Context, streamType string) ([]StreamID, error)
	// Write runs fn with a transaction. Batch atomic backends discard every append of
	// fn when it returns an error.
	Write(ctx context.Context, fn func(tx BackendTx) error) error
	Atomicity() Atomicity
}
