package mqttmock

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	mqttclient "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockstage/mockstage/pkg/config"
	"github.com/mockstage/mockstage/pkg/engine"
	"github.com/mockstage/mockstage/pkg/mock"
)

func testConfig() config.ServerConfig {
	cfg := config.DefaultServerConfig(mock.ProtocolMQTT)
	cfg.Port = 0
	cfg.NativeProperties = map[string]string{config.PropBindHost: "127.0.0.1"}
	return cfg
}

func startListener(t *testing.T, cfg config.ServerConfig, defs ...*mock.Definition) *Listener {
	t.Helper()
	for _, d := range defs {
		d.Protocol = mock.ProtocolMQTT
		require.NoError(t, d.Validate())
	}

	l, err := New(&engine.Run{
		Config:   cfg,
		Matcher:  engine.NewMatcher(mock.ProtocolMQTT),
		Snapshot: defs,
	})
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.Shutdown(ctx)
	})
	return l
}

// createMQTTClient creates a Paho MQTT client for testing
func createMQTTClient(t *testing.T, port int, clientID string) mqttclient.Client {
	t.Helper()
	opts := mqttclient.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(5 * time.Second)

	client := mqttclient.NewClient(opts)
	token := client.Connect()
	require.True(t, token.WaitTimeout(5*time.Second), "MQTT connect timeout")
	require.NoError(t, token.Error())

	t.Cleanup(func() {
		client.Disconnect(250)
	})
	return client
}

func subscribe(t *testing.T, client mqttclient.Client, topic string) <-chan string {
	t.Helper()
	ch := make(chan string, 10)
	token := client.Subscribe(topic, 0, func(_ mqttclient.Client, msg mqttclient.Message) {
		ch <- msg.Topic() + " " + string(msg.Payload())
	})
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
	return ch
}

func publish(t *testing.T, client mqttclient.Client, topic, payload string) {
	t.Helper()
	token := client.Publish(topic, 0, false, payload)
	require.True(t, token.WaitTimeout(5*time.Second))
	require.NoError(t, token.Error())
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return ""
	}
}

func TestListener_RequestResponse(t *testing.T) {
	t.Parallel()

	l := startListener(t, testConfig(),
		&mock.Definition{
			Topic: "devices/+/cmd",
			Type:  mock.TypeRule,
			Rules: []mock.Rule{
				{
					Conditions: []mock.Condition{{Source: mock.SourceJSONPath, Key: "$.action", Operator: mock.OpEquals, Value: "reboot"}},
					Response:   mock.Response{Body: `{"status":"rebooting"}`},
				},
				{Response: mock.Response{Body: `{"status":"unknown"}`}},
			},
		},
		&mock.Definition{
			Topic:    "alerts/#",
			Type:     mock.TypeSingle,
			Response: &mock.Response{Body: "ack", Headers: map[string]string{HeaderTopic: "alerts-ack"}, Delay: mock.Duration(20 * time.Millisecond)},
		},
	)

	client := createMQTTClient(t, l.Port(), "device-42")
	replies := subscribe(t, client, "devices/42/cmd/response")
	acks := subscribe(t, client, "alerts-ack")

	publish(t, client, "devices/42/cmd", `{"action":"reboot"}`)
	assert.Equal(t, `devices/42/cmd/response {"status":"rebooting"}`, receive(t, replies))

	publish(t, client, "devices/42/cmd", `{"action":"dance"}`)
	assert.Equal(t, `devices/42/cmd/response {"status":"unknown"}`, receive(t, replies))

	publish(t, client, "alerts/fire/kitchen", "smoke")
	assert.Equal(t, "alerts-ack ack", receive(t, acks))

	assert.Contains(t, l.Clients(), "device-42")
}

func TestListener_ResponseOrder(t *testing.T) {
	t.Parallel()

	l := startListener(t, testConfig(),
		&mock.Definition{
			Topic:    "jobs/slow",
			Type:     mock.TypeSingle,
			Response: &mock.Response{Body: "first", Headers: map[string]string{HeaderTopic: "replies"}, Delay: mock.Duration(300 * time.Millisecond)},
		},
		&mock.Definition{
			Topic:    "jobs/fast",
			Type:     mock.TypeSingle,
			Response: &mock.Response{Body: "second", Headers: map[string]string{HeaderTopic: "replies"}},
		},
	)

	client := createMQTTClient(t, l.Port(), "ordered")
	replies := subscribe(t, client, "replies")

	publish(t, client, "jobs/slow", "a")
	publish(t, client, "jobs/fast", "b")

	got := []string{receive(t, replies), receive(t, replies)}
	assert.Equal(t, []string{"replies first", "replies second"}, got)
}

func TestListener_DelayCappedByTimeout(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Timeout = mock.Duration(100 * time.Millisecond)
	l := startListener(t, cfg,
		&mock.Definition{
			Topic:    "jobs/stuck",
			Type:     mock.TypeSingle,
			Response: &mock.Response{Body: "late", Headers: map[string]string{HeaderTopic: "replies"}, Delay: mock.Duration(2 * time.Second)},
		},
		&mock.Definition{
			Topic:    "jobs/fast",
			Type:     mock.TypeSingle,
			Response: &mock.Response{Body: "prompt", Headers: map[string]string{HeaderTopic: "replies"}},
		},
	)

	client := createMQTTClient(t, l.Port(), "capped")
	replies := subscribe(t, client, "replies")

	start := time.Now()
	publish(t, client, "jobs/stuck", "a")
	publish(t, client, "jobs/fast", "b")

	assert.Equal(t, "replies prompt", receive(t, replies), "the over-long response is dropped")
	assert.Less(t, time.Since(start), time.Second)

	select {
	case msg := <-replies:
		t.Fatalf("unexpected response %q", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestListener_UnmatchedPublish(t *testing.T) {
	t.Parallel()

	l := startListener(t, testConfig(), &mock.Definition{Topic: "known", Type: mock.TypeSingle, Response: &mock.Response{Body: "x"}})

	client := createMQTTClient(t, l.Port(), "c1")
	replies := subscribe(t, client, "#")

	publish(t, client, "unknown", "hello")
	assert.Equal(t, "unknown hello", receive(t, replies), "the publish itself is delivered")

	select {
	case msg := <-replies:
		t.Fatalf("unexpected response %q", msg)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestListener_Publish(t *testing.T) {
	t.Parallel()

	l := startListener(t, testConfig())
	client := createMQTTClient(t, l.Port(), "listener")
	ch := subscribe(t, client, "news/+")

	require.NoError(t, l.Publish("news/today", []byte("headline"), 0, false))
	assert.Equal(t, "news/today headline", receive(t, ch))
}

func TestListener_Lifecycle(t *testing.T) {
	t.Parallel()

	l, err := New(&engine.Run{Config: testConfig(), Matcher: engine.NewMatcher(mock.ProtocolMQTT)})
	require.NoError(t, err)

	assert.ErrorIs(t, l.Publish("t", nil, 0, false), ErrNotRunning)

	require.NoError(t, l.Start(context.Background()))
	assert.ErrorIs(t, l.Start(context.Background()), engine.ErrAlreadyRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
	require.NoError(t, l.Shutdown(ctx))
	assert.ErrorIs(t, l.Publish("t", nil, 0, false), ErrNotRunning)
}

func TestListener_BrokerURL(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	cfg := testConfig()
	cfg.Port = 1
	cfg.NativeProperties[config.PropBrokerURL] = "tcp://127.0.0.1:" + strconv.Itoa(port)
	l := startListener(t, cfg)
	assert.Equal(t, port, l.Port())

	createMQTTClient(t, port, "via-broker-url")

	bad := testConfig()
	bad.NativeProperties[config.PropBrokerURL] = "::nonsense"
	l2, err := New(&engine.Run{Config: bad, Matcher: engine.NewMatcher(mock.ProtocolMQTT)})
	require.NoError(t, err)
	var cfgErr *config.ConfigError
	assert.ErrorAs(t, l2.Start(context.Background()), &cfgErr)
}
