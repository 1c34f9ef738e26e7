package es

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// MaxIDLength is the maximum number of characters of a StreamID or ActorID.
const MaxIDLength = 255

type (
	// StreamID identifies one stream, and therefore one aggregate instance.
	StreamID string
	// EventID globally identifies one event.
	EventID string
	// ActorID identifies who caused a change. The zero value means no actor.
	ActorID string
)

// NewStreamID returns a random stream id.
func NewStreamID() StreamID { return StreamID(gonanoid.Must()) }

// NewEventID returns a time ordered, globally unique event id.
func NewEventID() EventID { return EventID(uuid.Must(uuid.NewV7()).String()) }

// ParseStreamID validates s and returns it as StreamID.
func ParseStreamID(s string) (StreamID, error) {
	id := StreamID(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

func (id StreamID) String() string { return string(id) }

func (id StreamID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrBlankStreamID
	}
	if n := utf8.RuneCountInString(string(id)); n > MaxIDLength {
		return fmt.Errorf("%w: stream id has %d characters, max is %d", ErrIDTooLong, n, MaxIDLength)
	}
	return nil
}

func (id EventID) String() string { return string(id) }

func (id ActorID) String() string { return string(id) }
func (id ActorID) IsZero() bool   { return id == "" }

func (id ActorID) Validate() error {
	if n := utf8.RuneCountInString(string(id)); n > MaxIDLength {
		return fmt.Errorf("%w: actor id has %d characters, max is %d", ErrIDTooLong, n, MaxIDLength)
	}
	return nil
}
