package logbuffer

import (
	"fmt"
	"testing"

	"github.com/eagraf/habitat-deployd/core/state/deploy"
	"github.com/eagraf/habitat-deployd/internal/deployd/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	events []deploy.Event
}

func (c *collector) ConsumeEvent(e *deploy.Event) error {
	c.events = append(c.events, *e)
	return nil
}

func TestTailAfterEviction(t *testing.T) {
	b := New(nil)
	for i := 1; i <= 150; i++ {
		b.Logf(deploy.TargetLocal, deploy.SeverityInfo, "all", "entry %d", i)
	}
	assert.Equal(t, Capacity, b.Len(deploy.TargetLocal))

	tail := b.Tail(deploy.TargetLocal, 100)
	require.Len(t, tail, 100)
	for i, e := range tail {
		assert.Equal(t, fmt.Sprintf("entry %d", i+51), e.Message)
	}

	// other channels are independent
	assert.Equal(t, 0, b.Len(deploy.TargetCloud))
	assert.Empty(t, b.Tail(deploy.TargetCloud, 20))
}

func TestOverflowEvictsExactlyOldest(t *testing.T) {
	b := New(nil)
	for i := 1; i <= Capacity; i++ {
		b.Logf(deploy.TargetCloud, deploy.SeverityInfo, "", "entry %d", i)
	}
	before := b.Tail(deploy.TargetCloud, Capacity)
	assert.Equal(t, "entry 1", before[0].Message)

	b.Logf(deploy.TargetCloud, deploy.SeverityError, "", "entry %d", Capacity+1)
	after := b.Tail(deploy.TargetCloud, Capacity)
	require.Len(t, after, Capacity)
	assert.Equal(t, before[1:], after[:Capacity-1])
	assert.Equal(t, "entry 101", after[Capacity-1].Message)
	assert.Equal(t, deploy.SeverityError, after[Capacity-1].Severity)
}

func TestTailBounds(t *testing.T) {
	b := New(nil)
	for i := 1; i <= 5; i++ {
		b.Logf(deploy.TargetLocal, "", "api", "entry %d", i)
	}

	tail := b.Tail(deploy.TargetLocal, 2)
	require.Len(t, tail, 2)
	assert.Equal(t, "entry 4", tail[0].Message)
	assert.Equal(t, "entry 5", tail[1].Message)

	assert.Len(t, b.Tail(deploy.TargetLocal, 20), 5)
	assert.Empty(t, b.Tail(deploy.TargetLocal, 0))
	assert.Empty(t, b.Tail(deploy.Target("staging"), 5))
}

func TestAppendAssignsSeqAndDefaults(t *testing.T) {
	b := New(nil)
	first := b.Append(deploy.LogEntry{Channel: deploy.TargetLocal, Message: "a"})
	second := b.Append(deploy.LogEntry{Channel: deploy.TargetCloud, Message: "b"})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, deploy.SeverityInfo, first.Severity)
	assert.False(t, first.Timestamp.IsZero())
}

func TestAppendPublishesInOrder(t *testing.T) {
	c := &collector{}
	publisher := pubsub.NewSimplePublisher[deploy.Event]()
	publisher.AddSubscriber(c)

	b := New(publisher)
	for i := 1; i <= 3; i++ {
		b.Logf(deploy.TargetLocal, deploy.SeverityInfo, "all", "entry %d", i)
	}

	require.Len(t, c.events, 3)
	for i, e := range c.events {
		assert.Equal(t, deploy.EventLog, e.Type)
		entry, ok := e.Data.(deploy.LogEntry)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("entry %d", i+1), entry.Message)
		assert.Equal(t, uint64(i+1), entry.Seq)
	}
}
