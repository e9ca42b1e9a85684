package mqttmock

import (
	"bytes"
	"net/http"
	"strings"
	"sync"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"

	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/mock"
)

// MethodPublish is the method of requests decoded from publishes.
const MethodPublish = "PUBLISH"

// Response headers with a meaning on the MQTT listener.
const (
	// HeaderTopic overrides the topic a response is published to.
	HeaderTopic = "topic"
	// HeaderRetain publishes the response retained when "true".
	HeaderRetain = "retain"
)

// replyBacklog bounds the responses waiting per client.
const replyBacklog = 64

// matchHook answers client publishes from the listener's definitions.
// Responses to one client are published in the order its publishes arrived.
type matchHook struct {
	mqtt.HookBase
	listener *Listener

	mu     sync.Mutex
	queues map[string]*replyQueue
}

type reply struct {
	topic string
	resp  *mock.Response
}

// replyQueue is drained by a single goroutine per client.
type replyQueue struct {
	jobs chan reply
	done chan struct{}
}

func newMatchHook(l *Listener) *matchHook {
	return &matchHook{listener: l, queues: make(map[string]*replyQueue)}
}

// ID returns the hook identifier.
func (h *matchHook) ID() string {
	return "mockstage-match"
}

// Provides indicates which hook methods this hook provides.
func (h *matchHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnPublish,
		mqtt.OnDisconnect,
	}, []byte{b})
}

// OnPublish matches a client publish and schedules the response.
func (h *matchHook) OnPublish(cl *mqtt.Client, pk packets.Packet) (packets.Packet, error) {
	// Our own responses come from the inline client.
	if cl.Net.Inline {
		return pk, nil
	}

	l := h.listener
	req := &mock.Request{
		Method:     MethodPublish,
		Path:       pk.TopicName,
		Headers:    http.Header{"Client-Id": {cl.ID}},
		Body:       append([]byte(nil), pk.Payload...),
		RemoteAddr: cl.Net.Remote,
	}

	defs, err := l.run.Definitions(l.ctx)
	if err != nil {
		l.log.Error("loading definitions failed", "error", err)
		return pk, nil
	}

	out := l.run.Matcher.Match(req, defs)
	switch {
	case out.Response != nil:
		h.enqueue(cl.ID, reply{topic: req.Path, resp: out.Response})
	case out.Forward:
		l.log.Debug("forwarding is not supported for mqtt", "topic", req.Path, "origin", out.ForwardURL)
	}
	return pk, nil
}

// OnDisconnect drops the client's reply queue once pending replies are sent.
func (h *matchHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	h.mu.Lock()
	q, ok := h.queues[cl.ID]
	delete(h.queues, cl.ID)
	h.mu.Unlock()
	if ok {
		close(q.done)
	}
}

func (h *matchHook) enqueue(clientID string, r reply) {
	l := h.listener

	h.mu.Lock()
	q, ok := h.queues[clientID]
	if !ok {
		q = &replyQueue{jobs: make(chan reply, replyBacklog), done: make(chan struct{})}
		h.queues[clientID] = q
		go h.drain(q)
	}
	h.mu.Unlock()

	select {
	case q.jobs <- r:
	case <-q.done:
	case <-l.ctx.Done():
	}
}

func (h *matchHook) drain(q *replyQueue) {
	ctx := h.listener.ctx
	for {
		select {
		case r := <-q.jobs:
			h.respond(r.topic, r.resp)
		case <-q.done:
			for {
				select {
				case r := <-q.jobs:
					h.respond(r.topic, r.resp)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// respond publishes resp after its delay. A delay past the listener timeout
// drops the response once the timeout has elapsed.
func (h *matchHook) respond(topic string, resp *mock.Response) {
	l := h.listener
	delay := resp.Delay.Duration()
	if timeout := l.cfg.Timeout.Duration(); timeout > 0 && delay > timeout {
		if sleep(l.ctx, timeout) {
			l.log.Warn("response delay exceeds timeout, dropping response", "topic", topic, "delay", delay, "timeout", timeout)
		}
		return
	}
	if !sleep(l.ctx, delay) {
		return
	}

	target := topic + "/response"
	retain := false
	for k, v := range resp.Headers {
		switch {
		case strings.EqualFold(k, HeaderTopic) && v != "":
			target = v
		case strings.EqualFold(k, HeaderRetain):
			retain = strings.EqualFold(v, "true")
		}
	}

	if err := l.Publish(target, []byte(resp.Body), 0, retain); err != nil {
		l.log.Warn("failed to publish mock response", "topic", target, "error", err)
	}
}

var _ engine.Listener = (*Listener)(nil)
