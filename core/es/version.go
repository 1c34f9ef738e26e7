package es

import "log/slog"

// Version is the position of an event within its stream.
// The first event of a stream has version 1, a stream without events is at version 0.
// Versions are gapless and strictly increasing; the (StreamID, Version) pair is the
// optimistic concurrency token of the store.
type Version uint64

func (v Version) Uint64() uint64                         { return uint64(v) }
func (v Version) Next() Version                          { return v + 1 }
func (v Version) SlogAttr() slog.Attr                    { return newSlogVersionAttr("version", v) }
func (v Version) SlogAttrWithKey(key string) slog.Attr   { return newSlogVersionAttr(key, v) }
func newSlogVersionAttr(key string, v Version) slog.Attr { return slog.Uint64(key, uint64(v)) }
