package netstate

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pashudhan/fieldsync/internal/logging"
)

func TestNotifier_BroadcastsChanges(t *testing.T) {
	n := NewNotifier(logging.Nop())
	ch, cancel := n.Subscribe()
	defer cancel()

	require.False(t, <-ch)

	n.Set(true)
	require.True(t, <-ch)
	assert.True(t, n.Online())

	n.Set(true)
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v", v)
	default:
	}
}

func TestNotifier_SlowSubscriberSeesLatest(t *testing.T) {
	n := NewNotifier(logging.Nop())
	ch, cancel := n.Subscribe()
	defer cancel()
	<-ch

	n.Set(true)
	n.Set(false)
	n.Set(true)
	assert.True(t, <-ch)
}

func TestNotifier_CancelStopsDelivery(t *testing.T) {
	n := NewNotifier(logging.Nop())
	ch, cancel := n.Subscribe()
	<-ch
	cancel()
	cancel()

	n.Set(true)
	select {
	case <-ch:
		t.Fatal("cancelled subscriber was notified")
	default:
	}
}

type fakePinger struct {
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *fakePinger) Health(ctx context.Context) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("unreachable")
	}
	return nil
}

func TestProber_Probe(t *testing.T) {
	p := &fakePinger{}
	n := NewNotifier(logging.Nop())
	pr := NewProber(p, n, 0, time.Second)

	assert.True(t, pr.Probe(context.Background()))
	assert.True(t, n.Online())

	p.fail.Store(true)
	assert.False(t, pr.Probe(context.Background()))
	assert.False(t, n.Online())
}

func TestProber_RunUntilCancelled(t *testing.T) {
	p := &fakePinger{}
	n := NewNotifier(logging.Nop())
	pr := NewProber(p, n, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		pr.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("prober did not stop")
	}
	assert.True(t, n.Online())
}
