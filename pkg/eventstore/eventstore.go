// Package eventstore buffers events written to unified-transport streams so a client that
// reconnects with Last-Event-ID receives everything it missed.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidEventID = fmt.Errorf("invalid event id")
	ErrStreamNotFound = fmt.Errorf("stream not found")
)

// SendFunc is called for every replayed event, in order.
type SendFunc func(eventID string, msg json.RawMessage) error

type Store interface {
	// Append stores msg on the stream and returns its event id.
	Append(ctx context.Context, streamID string, msg json.RawMessage) (string, error)

	// ReplayAfter sends every event of the stream lastEventID belongs to that was stored
	// after it, returning the stream id.
	ReplayAfter(ctx context.Context, lastEventID string, send SendFunc) (string, error)

	// DeleteStream drops all events of a stream.
	DeleteStream(ctx context.Context, streamID string) error
}

// EventID formats the id of the seq-th event on a stream.
func EventID(streamID string, seq int64) string {
	return streamID + "_" + strconv.FormatInt(seq, 10)
}

// ParseEventID splits an event id into stream id and sequence number.
func ParseEventID(eventID string) (string, int64, error) {
	idx := strings.LastIndexByte(eventID, '_')
	if idx <= 0 || idx == len(eventID)-1 {
		return "", 0, ErrInvalidEventID
	}
	seq, err := strconv.ParseInt(eventID[idx+1:], 10, 64)
	if err != nil || seq < 0 {
		return "", 0, ErrInvalidEventID
	}
	return eventID[:idx], seq, nil
}
