package service

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/alanyoungcy/polybet/internal/domain"
)

const localStreamCap = 10_000

// LocalBus is an in-process domain.SignalBus for single-node deployments
// that run without Redis. Slow subscribers drop messages rather than block
// publishers.
type LocalBus struct {
	mu      sync.RWMutex
	subs    map[*localSub]struct{}
	streams map[string][]domain.StreamMessage
	seq     map[string]uint64
}

type localSub struct {
	pattern string
	ch      chan []byte
}

var _ domain.SignalBus = (*LocalBus)(nil)

// NewLocalBus returns an empty bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{
		subs:    make(map[*localSub]struct{}),
		streams: make(map[string][]domain.StreamMessage),
		seq:     make(map[string]uint64),
	}
}

// Publish delivers payload to every subscriber whose channel or pattern matches.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if !channelMatches(s.pattern, channel) {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers for channel; a trailing '*' matches any suffix.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &localSub{pattern: channel, ch: make(chan []byte, 128)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload, keeping the newest localStreamCap entries.
func (b *LocalBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq[stream]++
	msgs := append(b.streams[stream], domain.StreamMessage{
		ID:      strconv.FormatUint(b.seq[stream], 10) + "-0",
		Payload: payload,
	})
	if len(msgs) > localStreamCap {
		msgs = msgs[len(msgs)-localStreamCap:]
	}
	b.streams[stream] = msgs
	return nil
}

// StreamRead returns up to count entries after lastID.
func (b *LocalBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, _ := strconv.ParseUint(strings.SplitN(lastID, "-", 2)[0], 10, 64)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.StreamMessage
	for _, m := range b.streams[stream] {
		id, _ := strconv.ParseUint(strings.SplitN(m.ID, "-", 2)[0], 10, 64)
		if id <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func channelMatches(pattern, channel string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(channel, prefix)
	}
	return pattern == channel
}
