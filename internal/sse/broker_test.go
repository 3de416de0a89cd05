package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain collects whatever is queued on ch within a short grace period.
func drain(ch chan []byte) []string {
	var out []string
	deadline := time.After(100 * time.Millisecond)
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		case <-deadline:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ch := b.Subscribe()
	require.Equal(t, 1, b.ClientCount())
	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.ClientCount())
}

func TestPublish_FrameFormat(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "asset.failed", Data: map[string]string{"path": "a.css"}})
	b.Publish(Event{Type: "asset.failed", Data: map[string]string{"path": "b.css"}})

	got := drain(ch)
	require.Len(t, got, 2)
	assert.Equal(t, "id: 1\nevent: asset.failed\ndata: {\"path\":\"a.css\"}\n\n", got[0])
	assert.True(t, strings.HasPrefix(got[1], "id: 2\n"), "ids are not sequential: %q", got[1])
}

func TestPublishBuildEvent_StatusThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishBuildEvent("build.started", map[string]string{"cycle_id": "c1"})
	b.PublishBuildEvent("asset.failed", map[string]string{"path": "a.css"})

	var status, build int
	for _, f := range drain(ch) {
		if strings.Contains(f, "event: "+StatusUpdated) {
			status++
		} else {
			build++
		}
	}
	assert.Equal(t, 2, build)
	assert.Equal(t, 1, status)
}

func TestReplay_LateSubscriber(t *testing.T) {
	b := NewBroker(time.Hour, WithReplay("build.completed"))
	defer b.Close()

	b.PublishBuildEvent("build.started", map[string]string{"cycle_id": "c1"})
	b.PublishBuildEvent("build.completed", map[string]int{"processed": 1})
	b.PublishBuildEvent("build.completed", map[string]int{"processed": 2})

	// The loop consumes build events and subscriptions in any order, so
	// resubscribe until the latest event has been recorded.
	var got []string
	require.Eventually(t, func() bool {
		late := b.Subscribe()
		got = drain(late)
		b.Unsubscribe(late)
		return len(got) > 0 && strings.Contains(got[len(got)-1], `"processed":2`)
	}, time.Second, time.Millisecond, "last completed event never replayed")
	assert.Len(t, got, 1, "only the last completed event is replayed")
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < clientBuffer+10; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
	// The loop must still answer.
	assert.Equal(t, 1, b.ClientCount())
}

// flushRecorder guards the recorder body for reads from the test goroutine.
type flushRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *flushRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *flushRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithKeepAlive(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return b.ClientCount() == 1 },
		time.Second, 5*time.Millisecond, "handler did not subscribe")

	b.PublishBuildEvent("build.completed", map[string]int{"processed": 3})
	time.Sleep(80 * time.Millisecond)
	cancel()
	<-done

	body := w.body()
	assert.Contains(t, body, "event: build.completed")
	assert.Contains(t, body, `"processed":3`)
	assert.Contains(t, body, ": ping\n\n", "keepalive")
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	assert.Eventually(t, func() bool { return b.ClientCount() == 0 },
		time.Second, 5*time.Millisecond, "client not cleaned up after disconnect")
}

func TestClose(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		require.False(t, ok, "subscriber channel still open")
	case <-time.After(time.Second):
		require.FailNow(t, "timeout waiting for channel close")
	}
	assert.Equal(t, 0, b.ClientCount())

	// No-ops after close.
	b.Publish(Event{Type: "build.started"})
	b.PublishBuildEvent("build.completed", nil)
	b.Close()
	_, ok := <-b.Subscribe()
	assert.False(t, ok, "subscribe after close returns a closed channel")
}
