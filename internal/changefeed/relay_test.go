package changefeed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableqr/waitlist/internal/changefeed"
	"github.com/tableqr/waitlist/internal/waitlist"
)

type recordingPublisher struct {
	mu       sync.Mutex
	events   []waitlist.ChangeEvent
	attempts int
	fail     bool
}

func (p *recordingPublisher) Publish(_ context.Context, event waitlist.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.fail {
		return errors.New("redis unavailable")
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) numbers() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.events))
	for i, e := range p.events {
		out[i] = e.New.QueueNumber
	}
	return out
}

func TestRelay_ForwardsEveryHubEventInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	relay := changefeed.NewRelay(changefeed.RelayConfig{Publisher: pub, Logger: zerolog.Nop()})
	hub := changefeed.NewHub(changefeed.HubConfig{Logger: zerolog.Nop(), Forward: relay.Forward})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()

	// no subscriptions: the relay still sees every store
	hub.Publish(readyEvent(1, 5))
	hub.Publish(readyEvent(2, 6))
	hub.Publish(readyEvent(1, 7))

	require.Eventually(t, func() bool { return len(pub.numbers()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{5, 6, 7}, pub.numbers())

	cancel()
	<-done

	relayed, dropped := relay.Stats()
	assert.Equal(t, int64(3), relayed)
	assert.Zero(t, dropped)
}

func TestRelay_DropsWhenBufferFull(t *testing.T) {
	relay := changefeed.NewRelay(changefeed.RelayConfig{
		Publisher:  &recordingPublisher{},
		Logger:     zerolog.Nop(),
		BufferSize: 1,
	})

	relay.Forward(readyEvent(1, 1))
	relay.Forward(readyEvent(1, 2))

	_, dropped := relay.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestRelay_PublishFailureIsNotFatal(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	relay := changefeed.NewRelay(changefeed.RelayConfig{Publisher: pub, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = relay.Run(ctx)
	}()

	relay.Forward(readyEvent(1, 1))
	require.Eventually(t, func() bool {
		pub.mu.Lock()
		defer pub.mu.Unlock()
		return pub.attempts == 1
	}, time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	pub.fail = false
	pub.mu.Unlock()
	relay.Forward(readyEvent(1, 2))

	require.Eventually(t, func() bool { return len(pub.numbers()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []int{2}, pub.numbers())

	cancel()
	<-done
}
