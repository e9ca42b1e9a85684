package httpmock

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/httputil"
	"github.com/mockstage/mockstage/pkg/mock"
)

const (
	// ContentTypeEventStream is the SSE content type.
	ContentTypeEventStream = "text/event-stream"

	// DefaultHeartbeat is used when a push-sse definition sets none.
	DefaultHeartbeat = 30 * time.Second

	// HeartbeatEvent is the event type of heartbeat messages.
	HeartbeatEvent = "heartbeat"
)

// Event headers read from a definition's events.
const (
	eventTypeHeader = "event"
	eventIDHeader   = "id"
)

// serveSSE holds an event stream open, emitting def's events after their
// delays and a heartbeat every SSEHeartbeat until the client goes away or
// the listener stops.
func (l *Listener) serveSSE(w http.ResponseWriter, r *http.Request, req *mock.Request, def *mock.Definition) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, httputil.CodeStreamsUnsupported, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The request context already derives from the listener context.
	ctx := r.Context()

	heartbeat := def.SSEHeartbeat.Duration()
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	events := make([]*mock.Response, 0, len(def.Events))
	for i := range def.Events {
		events = append(events, engine.Render(&def.Events[i], req))
	}

	next, nextC := nextEvent(events)
	for {
		select {
		case <-ctx.Done():
			stopTimer(next)
			return
		case <-ticker.C:
			if !writeEvent(w, flusher, HeartbeatEvent, "", strconv.FormatInt(time.Now().UnixMilli(), 10)) {
				stopTimer(next)
				return
			}
		case <-nextC:
			ev := events[0]
			events = events[1:]
			if !writeEvent(w, flusher, headerValue(ev.Headers, eventTypeHeader), headerValue(ev.Headers, eventIDHeader), ev.Body) {
				return
			}
			next, nextC = nextEvent(events)
		}
	}
}

// nextEvent arms a timer for the first pending event. A nil channel blocks
// forever once every event has been sent.
func nextEvent(events []*mock.Response) (*time.Timer, <-chan time.Time) {
	if len(events) == 0 {
		return nil, nil
	}
	t := time.NewTimer(events[0].Delay.Duration())
	return t, t.C
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// writeEvent writes one event in wire format and flushes it.
func writeEvent(w http.ResponseWriter, flusher http.Flusher, eventType, id, data string) bool {
	_, err := w.Write([]byte(formatEvent(eventType, id, data)))
	if err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// formatEvent creates an event with type, id and multi-line data.
func formatEvent(eventType, id, data string) string {
	var sb strings.Builder

	if eventType = sanitizeField(eventType); eventType != "" {
		sb.WriteString("event: ")
		sb.WriteString(eventType)
		sb.WriteByte('\n')
	}
	if id = sanitizeField(id); id != "" {
		sb.WriteString("id: ")
		sb.WriteString(id)
		sb.WriteByte('\n')
	}

	data = strings.ReplaceAll(data, "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}

	sb.WriteByte('\n')
	return sb.String()
}

func sanitizeField(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}

func headerValue(h map[string]string, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
