package progress

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Lllllllleong/pagetranslationflow/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events []Event
	err    error
}

func (s *recordingSink) Emit(_ string, ev Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func TestLog_MonotonicAndBounded(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog("c1", sink)

	l.Emit(10, "a")
	l.Emit(5, "goes backwards")
	l.Emit(150, "overflow")
	l.Emit(-3, "negative")

	steps := []int{}
	for _, ev := range l.Events() {
		steps = append(steps, ev.Step)
		assert.Equal(t, Total, ev.Total)
	}
	assert.Equal(t, []int{10, 10, 100, 100}, steps)
	assert.Len(t, sink.events, 4)
	assert.Equal(t, 100, l.Last())
}

func TestLog_SinkFailureIsSilent(t *testing.T) {
	l := NewLog("c1", &recordingSink{err: errors.New("broken pipe")})
	l.Emit(1, "one")
	l.Emit(2, "two")
	assert.Len(t, l.Events(), 2)

	l2 := NewLog("c2", nil)
	l2.Emit(3, "discarded")
	assert.Len(t, l2.Events(), 1)
}

func TestLog_MuteKeepsRecording(t *testing.T) {
	sink := &recordingSink{}
	l := NewLog("c1", sink)
	l.Emit(1, "before")
	l.Mute()
	l.Emit(2, "after")

	assert.Len(t, sink.events, 1)
	assert.Len(t, l.Events(), 2)
	assert.Equal(t, "after", l.Models()[1].Message)
}

func TestSpan_MapsIntoBand(t *testing.T) {
	l := NewLog("c1", nil)
	span := l.Span(50, 75)

	span.Start("start")
	span.Report(1, 4, "page 1")
	span.Report(2, 4, "page 2")
	span.Report(4, 4, "page 4")
	span.Finish("done")

	var steps []int
	for _, ev := range l.Events() {
		steps = append(steps, ev.Step)
	}
	assert.Equal(t, []int{50, 56, 62, 75, 75}, steps)

	var zero Span
	zero.Report(1, 1, "ignored")
	zero.Start("ignored")
	zero.Finish("ignored")
}

func TestHub_EmitWithoutObserver(t *testing.T) {
	h := NewHub(Hooks{})
	err := h.Emit("nobody", Event{Step: 1, Total: Total})
	assert.ErrorIs(t, err, ErrNoObserver)
	assert.False(t, h.Connected("nobody"))
}

func readProgress(t *testing.T, conn *websocket.Conn) models.ProgressEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, MessageProgress, msg.Type)
	var ev models.ProgressEvent
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	return ev
}

func TestHub_ReplayDeliverAndCancel(t *testing.T) {
	connected := make(chan string, 1)
	disconnected := make(chan string, 1)
	cancelled := make(chan string, 1)
	h := NewHub(Hooks{
		OnConnect:    func(id string) { connected <- id },
		OnDisconnect: func(id string) { disconnected <- id },
		OnCancel: func(id string) bool {
			cancelled <- id
			return true
		},
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "c1")
	}))
	defer srv.Close()

	// Emitted before anyone listens: kept for replay.
	require.ErrorIs(t, h.Emit("c1", Event{Message: "early", Step: 5, Total: Total}), ErrNoObserver)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)

	assert.Equal(t, "c1", <-connected)
	assert.Equal(t, "early", readProgress(t, conn).Message)

	require.Eventually(t, func() bool { return h.Connected("c1") }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Emit("c1", Event{Message: "live", Step: 10, Total: Total}))
	ev := readProgress(t, conn)
	assert.Equal(t, "live", ev.Message)
	assert.Equal(t, 10, ev.Step)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageCancel}))
	assert.Equal(t, "c1", <-cancelled)
	var ack Message
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, MessageCancelOK, ack.Type)

	_ = conn.Close()
	select {
	case id := <-disconnected:
		assert.Equal(t, "c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called")
	}
	assert.False(t, h.Connected("c1"))

	h.Forget("c1")
	assert.ErrorIs(t, h.Emit("c1", Event{}), ErrNoObserver)
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestHub_ReplacedSocketDoesNotDisconnect(t *testing.T) {
	connected := make(chan string, 4)
	disconnected := make(chan string, 4)
	h := NewHub(Hooks{
		OnConnect:    func(id string) { connected <- id },
		OnDisconnect: func(id string) { disconnected <- id },
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "c1")
	}))
	defer srv.Close()

	first := dialHub(t, srv.URL)
	defer first.Close()
	<-connected
	second := dialHub(t, srv.URL)
	<-connected

	// The first socket is closed by the hub; its teardown must not report a disconnect.
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.ReadMessage()
	require.Error(t, err)

	select {
	case id := <-disconnected:
		t.Fatalf("disconnect hook fired for %s while a newer socket is attached", id)
	case <-time.After(200 * time.Millisecond):
	}
	assert.True(t, h.Connected("c1"))

	require.NoError(t, h.Emit("c1", Event{Message: "still live", Step: 40, Total: Total}))
	assert.Equal(t, "still live", readProgress(t, second).Message)

	_ = second.Close()
	select {
	case id := <-disconnected:
		assert.Equal(t, "c1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook not called for the current socket")
	}
}

func TestHub_ReplayPrecedesLiveEvents(t *testing.T) {
	h := NewHub(Hooks{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, "c1")
	}))
	defer srv.Close()

	for step := 1; step <= 20; step++ {
		_ = h.Emit("c1", Event{Step: step, Total: Total})
	}

	stop := make(chan struct{})
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for step := 21; step <= 60; step++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = h.Emit("c1", Event{Step: step, Total: Total})
			time.Sleep(time.Millisecond)
		}
	}()

	conn := dialHub(t, srv.URL)
	defer conn.Close()

	last := 0
	for i := 0; i < 20; i++ {
		ev := readProgress(t, conn)
		assert.Greater(t, ev.Step, last, "event %d out of order", i)
		last = ev.Step
	}
	close(stop)
	<-emitted
}
