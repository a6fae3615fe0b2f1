package event

import (
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBus_PublishReachesSubscribers(t *testing.T) {
	b := New(0)

	var got []Event
	b.Subscribe(SessionExpired, func(e Event) { got = append(got, e) })
	b.Subscribe(Kind("other"), func(Event) { t.Fatal("wrong kind dispatched") })

	b.PublishSessionExpired("", "401 on /notifications")

	require.Len(t, got, 1)
	assert.Equal(t, SessionExpired, got[0].Kind)
	assert.Equal(t, "401 on /notifications", got[0].Reason)
	assert.False(t, got[0].At.IsZero())
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(0)

	calls := 0
	unsubscribe := b.Subscribe(SessionExpired, func(Event) { calls++ })
	assert.Equal(t, 1, b.SubscriberCount(SessionExpired))

	unsubscribe()
	unsubscribe()
	b.PublishSessionExpired("", "")

	assert.Equal(t, 0, calls)
	assert.Equal(t, 0, b.SubscriberCount(SessionExpired))
}

func TestBus_NoWindowDispatchesEveryPublication(t *testing.T) {
	b := New(0)

	calls := 0
	b.Subscribe(SessionExpired, func(Event) { calls++ })

	b.PublishSessionExpired("", "a")
	b.PublishSessionExpired("", "b")

	assert.Equal(t, 2, calls)
}

func TestBus_WindowCollapsesBurst(t *testing.T) {
	b := New(time.Hour)

	var mu gosync.Mutex
	calls := 0
	b.Subscribe(SessionExpired, func(Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg gosync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.PublishSessionExpired("", "concurrent 401")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestBus_WindowIsPerKind(t *testing.T) {
	b := New(time.Hour)

	var kinds []Kind
	b.Subscribe(SessionExpired, func(e Event) { kinds = append(kinds, e.Kind) })
	b.Subscribe(Kind("other"), func(e Event) { kinds = append(kinds, e.Kind) })

	b.PublishSessionExpired("", "")
	b.Publish(Event{Kind: Kind("other")})
	b.PublishSessionExpired("", "")

	assert.Equal(t, []Kind{SessionExpired, Kind("other")}, kinds)
}

func TestBus_WindowIsPerScope(t *testing.T) {
	b := New(time.Hour)

	var scopes []string
	b.Subscribe(SessionExpired, func(e Event) { scopes = append(scopes, e.Scope) })

	b.PublishSessionExpired("tokA", "401 on count")
	b.PublishSessionExpired("tokA", "401 on feed")
	b.PublishSessionExpired("tokB", "401 on count")
	b.PublishSessionExpired("tokB", "401 on feed")

	assert.Equal(t, []string{"tokA", "tokB"}, scopes)
}
