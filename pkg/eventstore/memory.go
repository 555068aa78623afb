package eventstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/eapache/queue"
)

const DefaultMemoryStreamSize = 1024

type memoryEvent struct {
	seq int64
	msg json.RawMessage
}

type memoryStream struct {
	seq    int64
	events *queue.Queue
}

type memoryStore struct {
	lock    sync.Mutex
	streams map[string]*memoryStream
	max     int
}

// NewMemoryStore keeps up to maxPerStream events per stream, dropping the oldest first.
func NewMemoryStore(maxPerStream int) Store {
	if maxPerStream <= 0 {
		maxPerStream = DefaultMemoryStreamSize
	}
	return &memoryStore{
		streams: map[string]*memoryStream{},
		max:     maxPerStream,
	}
}

func (m *memoryStore) Append(ctx context.Context, streamID string, msg json.RawMessage) (string, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	s, ok := m.streams[streamID]
	if !ok {
		s = &memoryStream{events: queue.New()}
		m.streams[streamID] = s
	}

	s.seq++
	s.events.Add(memoryEvent{seq: s.seq, msg: msg})
	for s.events.Length() > m.max {
		s.events.Remove()
	}

	return EventID(streamID, s.seq), nil
}

func (m *memoryStore) ReplayAfter(ctx context.Context, lastEventID string, send SendFunc) (string, error) {
	streamID, after, err := ParseEventID(lastEventID)
	if err != nil {
		return "", err
	}

	// copy under the lock, send without it
	m.lock.Lock()
	s, ok := m.streams[streamID]
	if !ok {
		m.lock.Unlock()
		return "", ErrStreamNotFound
	}
	var pending []memoryEvent
	for i := 0; i < s.events.Length(); i++ {
		evt := s.events.Get(i).(memoryEvent)
		if evt.seq > after {
			pending = append(pending, evt)
		}
	}
	m.lock.Unlock()

	for _, evt := range pending {
		if err := ctx.Err(); err != nil {
			return streamID, err
		}
		if err := send(EventID(streamID, evt.seq), evt.msg); err != nil {
			return streamID, err
		}
	}
	return streamID, nil
}

func (m *memoryStore) DeleteStream(ctx context.Context, streamID string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.streams, streamID)
	return nil
}
