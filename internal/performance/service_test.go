package performance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return r.err
}

func TestService_FansOutToAllNotifiers(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("unreachable")}
	ok := &recordingNotifier{}
	svc := NewService(zerolog.Nop(), failing, nil, ok).(*service)
	fixed := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	svc.RecordSuccessEvent(context.Background(), "perf-1", "agg-conn-1")
	svc.RecordPauseEvent(context.Background(), "perf-1")
	svc.RecordResumeEvent(context.Background(), "perf-1")

	require.Len(t, ok.events, 3)
	assert.Len(t, failing.events, 3, "a failing notifier does not stop delivery")
	assert.Equal(t, Event{Kind: EventSuccess, SessionID: "perf-1", AggregatorConnectionID: "agg-conn-1", OccurredAt: fixed}, ok.events[0])
	assert.Equal(t, EventPause, ok.events[1].Kind)
	assert.Equal(t, EventResume, ok.events[2].Kind)
}

func TestService_SkipsEventsWithoutSession(t *testing.T) {
	n := &recordingNotifier{}
	svc := NewService(zerolog.Nop(), n)
	svc.RecordSuccessEvent(context.Background(), "", "x")
	assert.Empty(t, n.events)
}

func TestHTTPNotifier(t *testing.T) {
	var (
		gotPath string
		gotEvt  Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotEvt))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewHTTPNotifier(srv.URL+"/", time.Second)
	err := n.Notify(context.Background(), Event{Kind: EventPause, SessionID: "perf-9"})
	require.NoError(t, err)
	assert.Equal(t, "/events/pause", gotPath)
	assert.Equal(t, "perf-9", gotEvt.SessionID)
}

func TestHTTPNotifier_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPNotifier(srv.URL, time.Second).Notify(context.Background(), Event{Kind: EventSuccess, SessionID: "s"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
