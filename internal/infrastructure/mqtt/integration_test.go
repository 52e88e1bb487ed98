//go:build integration

package mqtt

import (
	"fmt"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
)

// Integration tests against an embedded mochi-mqtt broker.
//
// Run with:
//   go test -tags=integration -v ./internal/infrastructure/mqtt/...

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

// startBroker runs an embedded broker on port until the returned stop func
// is called.
func startBroker(t *testing.T, port int) (*mochi.Server, func()) {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("AddHook() error = %v", err)
	}
	tcp := listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("t%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	if err := server.AddListener(tcp); err != nil {
		t.Fatalf("AddListener() error = %v", err)
	}
	if err := server.Serve(); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	var stopped bool
	return server, func() {
		if !stopped {
			stopped = true
			_ = server.Close()
		}
	}
}

func integrationConfig(port int) config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     port,
			ClientID: "backend_int_test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     2,
		},
		PublishTimeout: 2,
	}
}

func waitConnected(t *testing.T, c *Client, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("client not connected after %v (state %v)", timeout, c.State())
}

func TestIntegration_MessageRoundtrip(t *testing.T) {
	port := freePort(t)
	server, stop := startBroker(t, port)
	defer stop()

	topics := NewTopics("rfid", "int")
	client := New(integrationConfig(port))
	defer client.Close()

	received := make(chan string, 4)
	if err := client.OnMessage(func(_ string, p []byte) error {
		received <- string(p)
		return nil
	}); err != nil {
		t.Fatalf("OnMessage() error = %v", err)
	}
	if err := client.Subscribe(topics.Inbound()...); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	client.Connect()
	waitConnected(t, client, 5*time.Second)

	payload := `{"uid":"A1B2C3D4","balance":42}`
	if err := server.Publish(topics.Balance(), []byte(payload), false, 1); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != payload {
			t.Errorf("received = %q, want %q", msg, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	}

	if err := client.Publish(topics.Topup(), []byte(`{"uid":"A1B2C3D4","amount":10}`)); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestIntegration_ReconnectRestoresSubscriptions(t *testing.T) {
	port := freePort(t)
	_, stop := startBroker(t, port)

	topics := NewTopics("rfid", "int")
	client := New(integrationConfig(port))
	defer client.Close()

	states := make(chan ConnectionState, 32)
	client.SetOnStateChange(func(s ConnectionState, _ error) {
		select {
		case states <- s:
		default:
		}
	})

	received := make(chan string, 4)
	_ = client.OnMessage(func(_ string, p []byte) error {
		received <- string(p)
		return nil
	})
	_ = client.Subscribe(topics.Inbound()...)

	client.Connect()
	waitConnected(t, client, 5*time.Second)

	stop()

	sawReconnecting := false
	deadline := time.After(5 * time.Second)
	for !sawReconnecting {
		select {
		case s := <-states:
			sawReconnecting = s == StateReconnecting
		case <-deadline:
			t.Fatal("never observed reconnecting after broker stopped")
		}
	}

	if err := client.Publish(topics.Topup(), []byte(`{}`)); err == nil {
		t.Error("Publish() succeeded while broker down")
	}

	server, stop2 := startBroker(t, port)
	defer stop2()
	waitConnected(t, client, 10*time.Second)

	payload := `{"uid":"FEED","status":"present"}`
	if err := server.Publish(topics.Status(), []byte(payload), false, 1); err != nil {
		t.Fatalf("broker Publish() error = %v", err)
	}

	select {
	case msg := <-received:
		if msg != payload {
			t.Errorf("received = %q, want %q", msg, payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not restored after reconnect")
	}
}
