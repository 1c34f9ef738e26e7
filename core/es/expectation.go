package es

import (
	"fmt"
	"log/slog"
)

type ExpectationKind uint8

const (
	ExpectNone ExpectationKind = iota
	ExpectExists
	ExpectNotExists
	ExpectVersion
)

func (k ExpectationKind) String() string {
	switch k {
	case ExpectNone:
		return "none"
	case ExpectExists:
		return "should_exist"
	case ExpectNotExists:
		return "should_not_exist"
	case ExpectVersion:
		return "should_be_at_version"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// StreamExpectation is the caller's precondition on a stream before a write.
// The zero value expects nothing.
type StreamExpectation struct {
	kind    ExpectationKind
	version Version
}

func NoExpectation() StreamExpectation  { return StreamExpectation{kind: ExpectNone} }
func ShouldExist() StreamExpectation    { return StreamExpectation{kind: ExpectExists} }
func ShouldNotExist() StreamExpectation { return StreamExpectation{kind: ExpectNotExists} }

// ShouldBeAtVersion expects the stream to be at v once the appended batch is applied,
// i.e. the stream version right before the append must be v minus the batch size.
func ShouldBeAtVersion(v Version) StreamExpectation {
	return StreamExpectation{kind: ExpectVersion, version: v}
}

func (x StreamExpectation) Kind() ExpectationKind { return x.kind }
func (x StreamExpectation) Version() Version      { return x.version }

func (x StreamExpectation) String() string {
	if x.kind == ExpectVersion {
		return fmt.Sprintf("%s(%d)", x.kind, x.version)
	}
	return x.kind.String()
}

func (x StreamExpectation) SlogAttr() slog.Attr { return slog.String("expect", x.String()) }

// Check verifies the expectation against the current stream version, observed before
// a batch of size batch is appended. A stream at version 0 does not exist.
func (x StreamExpectation) Check(id StreamID, current Version, batch int) error {
	if x.Satisfied(current, batch) {
		return nil
	}
	return &UnexpectedStreamStateError{StreamID: id, Expected: x, Observed: current}
}

func (x StreamExpectation) Satisfied(current Version, batch int) bool {
	switch x.kind {
	case ExpectExists:
		return current > 0
	case ExpectNotExists:
		return current == 0
	case ExpectVersion:
		if batch < 0 || Version(batch) > x.version {
			return false
		}
		return current == x.version-Version(batch)
	default:
		return true
	}
}
