package logbuffer

import (
	"fmt"
	"sync"
	"time"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/pubsub"
	"github.com/rs/zerolog/log"
)

// Capacity is the number of entries retained per channel.
const Capacity = 100

// ring is a fixed size circular buffer. head is the index of the oldest entry.
type ring struct {
	entries [Capacity]deploy.LogEntry
	head    int
	count   int
}

func (r *ring) push(e deploy.LogEntry) {
	if r.count < Capacity {
		r.entries[(r.head+r.count)%Capacity] = e
		r.count++
		return
	}
	// full: overwrite the oldest entry and advance head
	r.entries[r.head] = e
	r.head = (r.head + 1) % Capacity
}

func (r *ring) tail(n int) []deploy.LogEntry {
	if n > r.count {
		n = r.count
	}
	if n <= 0 {
		return []deploy.LogEntry{}
	}
	out := make([]deploy.LogEntry, n)
	start := r.head + r.count - n
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+i)%Capacity]
	}
	return out
}

// Buffer keeps the most recent entries of each channel and publishes every append.
// The publish happens under the buffer lock, so observers see a channel's entries in
// insertion order.
type Buffer struct {
	mu        sync.Mutex
	seq       uint64
	channels  map[deploy.Target]*ring
	publisher pubsub.Publisher[deploy.Event]
}

func New(publisher pubsub.Publisher[deploy.Event]) *Buffer {
	b := &Buffer{
		channels:  make(map[deploy.Target]*ring),
		publisher: publisher,
	}
	for _, t := range deploy.Targets {
		b.channels[t] = &ring{}
	}
	return b
}

// Append stores the entry, assigning its sequence number and timestamp when unset.
func (b *Buffer) Append(entry deploy.LogEntry) deploy.LogEntry {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.Severity == "" {
		entry.Severity = deploy.SeverityInfo
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.channels[entry.Channel]
	if !ok {
		r = &ring{}
		b.channels[entry.Channel] = r
	}
	b.seq++
	entry.Seq = b.seq
	r.push(entry)

	if b.publisher != nil {
		event := deploy.NewLogEvent(entry)
		if err := b.publisher.PublishEvent(&event); err != nil {
			log.Error().Err(err).Msgf("error publishing log entry %d", entry.Seq)
		}
	}
	return entry
}

func (b *Buffer) Logf(channel deploy.Target, severity deploy.Severity, service string, format string, args ...any) deploy.LogEntry {
	return b.Append(deploy.LogEntry{
		Channel:  channel,
		Severity: severity,
		Service:  service,
		Message:  fmt.Sprintf(format, args...),
	})
}

// Tail returns up to n of the most recent entries of channel, oldest first.
func (b *Buffer) Tail(channel deploy.Target, n int) []deploy.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.channels[channel]
	if !ok {
		return []deploy.LogEntry{}
	}
	return r.tail(n)
}

func (b *Buffer) Len(channel deploy.Target) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.channels[channel]
	if !ok {
		return 0
	}
	return r.count
}
