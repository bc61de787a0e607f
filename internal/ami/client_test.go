package ami

import (
	"net"
	"testing"
	"time"

	"cdrengine/internal/config"
)

func TestNextReconnectDelayGrowsAndCaps(t *testing.T) {
	ceiling := 8 * time.Second
	d := 1 * time.Second

	d = nextReconnectDelay(d, ceiling)
	if d != 2*time.Second {
		t.Fatalf("first doubling = %v, want 2s", d)
	}
	d = nextReconnectDelay(d, ceiling)
	if d != 4*time.Second {
		t.Fatalf("second doubling = %v, want 4s", d)
	}
	d = nextReconnectDelay(d, ceiling)
	if d != ceiling {
		t.Fatalf("third doubling = %v, want capped at ceiling %v", d, ceiling)
	}
	d = nextReconnectDelay(d, ceiling)
	if d != ceiling {
		t.Fatalf("delay exceeded ceiling: got %v, want %v", d, ceiling)
	}
}

func TestNextReconnectDelayFlatWithoutCeiling(t *testing.T) {
	d := 1 * time.Second
	for i := 0; i < 5; i++ {
		d = nextReconnectDelay(d, 0)
	}
	if d != 1*time.Second {
		t.Fatalf("delay with no ceiling configured = %v, want unchanged 1s (flat-sleep behavior)", d)
	}
}

// fakeAMIServer accepts one connection, writes the banner AMI expects, then
// replies Success to the Login action so Client.Connect succeeds.
func fakeAMIServer(t *testing.T, ln net.Listener) {
	conn, err := ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	conn.Write([]byte("Asterisk Call Manager/2.10.0\r\n"))

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.Logf("fake AMI server: read login: %v", err)
		return
	}
	_ = n
	conn.Write([]byte("Response: Success\r\nMessage: Authentication accepted\r\n\r\n"))

	// Keep the connection open for readEvents; the test ends the process
	// via Client.Close, which is enough to unblock client goroutines.
	time.Sleep(200 * time.Millisecond)
}

// TestReconnectStopsOnDone confirms the bounded reconnect loop (§8 scenario
// 9) honors Close(): once done is closed, reconnect must return promptly
// instead of sleeping through the full backoff chain.
func TestReconnectStopsOnDone(t *testing.T) {
	cfg := &config.AMIConfig{
		Host:              "127.0.0.1",
		Port:              1, // nothing listens here: every Connect attempt fails
		ReconnectInterval: 0,
		MaxReconnectDelay: 60,
	}
	c := NewClient(cfg)

	done := make(chan struct{})
	go func() {
		c.reconnect()
		close(done)
	}()

	// Give reconnect one failed cycle before asking it to stop.
	time.Sleep(50 * time.Millisecond)
	closeErr := c.Close()
	if closeErr != nil {
		t.Fatalf("Close() error = %v", closeErr)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect did not stop within 3s of Close()")
	}
}

// TestReconnectSucceedsOnceServerAvailable exercises the full loop against a
// real listener that is already up: reconnect must connect, log in, and
// return with the client marked connected.
func TestReconnectSucceedsOnceServerAvailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().(*net.TCPAddr)
	cfg := &config.AMIConfig{
		Host:              "127.0.0.1",
		Port:              addr.Port,
		Username:          "admin",
		Secret:            "secret",
		ReconnectInterval: 0,
		MaxReconnectDelay: 1,
	}
	c := NewClient(cfg)

	go fakeAMIServer(t, ln)

	done := make(chan struct{})
	go func() {
		c.reconnect()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("reconnect never recovered against an available AMI server")
	}

	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		t.Error("client not marked connected after successful reconnect")
	}
	c.Close()
}
