package echoserver

import (
	"fmt"
	"math"
	"net"
	"sync"
	"testing"
	"time"
)

// startTestServer starts a server on an ephemeral port with fast shutdown
// settings and returns its handle.
func startTestServer(t *testing.T, opt ...Option) *Handle {
	t.Helper()

	opts := append([]Option{
		PollIntervalOption(20 * time.Millisecond),
		IOTimeoutOption(time.Second),
	}, opt...)

	server := New("127.0.0.1:0", opts...)
	handle, err := server.Start()
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return handle
}

// stopAndWait stops the server and fails the test if shutdown does not
// complete within the documented bound.
func stopAndWait(t *testing.T, handle *Handle) {
	t.Helper()

	handle.Stop()

	done := make(chan error, 1)
	go func() {
		done <- handle.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server to stop")
	}
}

func TestServer_StartStop(t *testing.T) {
	handle := startTestServer(t)

	if handle.Addr() == nil {
		t.Error("Addr returned nil")
	}

	stopAndWait(t, handle)
}

func TestServer_StopIdempotent(t *testing.T) {
	handle := startTestServer(t)

	handle.Stop()
	handle.Stop()
	handle.Stop()

	stopAndWait(t, handle)

	// Wait again after shutdown completed.
	if err := handle.Wait(); err != nil {
		t.Errorf("second Wait returned error: %v", err)
	}
}

func TestServer_BindError(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	// Binding the same port again must fail synchronously.
	server := New(handle.Addr().String())
	if _, err := server.Start(); err == nil {
		t.Error("expected bind error for occupied port")
	}
}

func TestServer_BindError_BadAddress(t *testing.T) {
	server := New("256.256.256.256:bad")
	if _, err := server.Start(); err == nil {
		t.Error("expected error for unresolvable address")
	}
}

func TestServer_ClientEcho(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	client, err := Dial(handle.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	resp, err := client.SendReceive(EchoMessage{Content: "Hello, World!"})
	if err != nil {
		t.Fatalf("SendReceive failed: %v", err)
	}

	echo, ok := resp.(EchoResponse)
	if !ok {
		t.Fatalf("expected EchoResponse, got %T", resp)
	}
	if echo.Content != "Hello, World!" {
		t.Errorf("content = %q, want %q", echo.Content, "Hello, World!")
	}
}

func TestServer_MultipleEchoMessages(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	client, err := Dial(handle.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	contents := []string{"Hello, World!", "How are you?", "Goodbye!"}
	for _, content := range contents {
		resp, err := client.SendReceive(EchoMessage{Content: content})
		if err != nil {
			t.Fatalf("SendReceive failed: %v", err)
		}

		echo, ok := resp.(EchoResponse)
		if !ok {
			t.Fatalf("expected EchoResponse, got %T", resp)
		}
		if echo.Content != content {
			t.Errorf("content = %q, want %q", echo.Content, content)
		}
	}
}

func TestServer_AddRequest(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	client, err := Dial(handle.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	cases := []struct {
		a, b, want int32
	}{
		{10, 20, 30},
		{2, 3, 5},
		{-1, 1, 0},
	}

	for _, c := range cases {
		resp, err := client.SendReceive(AddRequest{A: c.a, B: c.b})
		if err != nil {
			t.Fatalf("SendReceive failed: %v", err)
		}

		add, ok := resp.(AddResponse)
		if !ok {
			t.Fatalf("expected AddResponse, got %T", resp)
		}
		if add.Result != c.want {
			t.Errorf("%d + %d = %d, want %d", c.a, c.b, add.Result, c.want)
		}
	}
}

func TestServer_AddOverflowWraps(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	client, err := Dial(handle.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	resp, err := client.SendReceive(AddRequest{A: math.MaxInt32, B: 1})
	if err != nil {
		t.Fatalf("SendReceive failed: %v", err)
	}

	add, ok := resp.(AddResponse)
	if !ok {
		t.Fatalf("expected AddResponse, got %T", resp)
	}
	if add.Result != math.MinInt32 {
		t.Errorf("result = %d, want %d", add.Result, math.MinInt32)
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	const clients = 10
	var wg sync.WaitGroup
	errCh := make(chan error, clients)

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			client, err := Dial(handle.Addr().String(), 5*time.Second)
			if err != nil {
				errCh <- fmt.Errorf("client %d: dial: %w", id, err)
				return
			}
			defer client.Close()

			content := fmt.Sprintf("message from client %d", id)
			resp, err := client.SendReceive(EchoMessage{Content: content})
			if err != nil {
				errCh <- fmt.Errorf("client %d: send: %w", id, err)
				return
			}

			echo, ok := resp.(EchoResponse)
			if !ok {
				errCh <- fmt.Errorf("client %d: expected EchoResponse, got %T", id, resp)
				return
			}
			if echo.Content != content {
				errCh <- fmt.Errorf("client %d: content = %q, want %q", id, echo.Content, content)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}
}

func TestServer_MalformedFrameGetsErrorResponse(t *testing.T) {
	handle := startTestServer(t)
	defer stopAndWait(t, handle)

	// One connection sending garbage...
	raw, err := net.Dial("tcp", handle.Addr().String())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer raw.Close()

	// ...while a healthy connection runs alongside it.
	client, err := Dial(handle.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if _, err := raw.Write(frame([]byte{0xde, 0xad, 0xbe, 0xef})); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = raw.SetReadDeadline(time.Now().Add(5 * time.Second))
	resp, err := DecodeServerMessage(raw, defaultMaxFrameSize)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := resp.(ErrorResponse); !ok {
		t.Fatalf("expected ErrorResponse, got %T", resp)
	}

	// The failure is contained to its connection.
	healthy, err := client.SendReceive(EchoMessage{Content: "still alive"})
	if err != nil {
		t.Fatalf("healthy connection failed: %v", err)
	}
	if echo, ok := healthy.(EchoResponse); !ok || echo.Content != "still alive" {
		t.Errorf("healthy connection got %#v", healthy)
	}
}

func TestServer_StopUnderLoad(t *testing.T) {
	handle := startTestServer(t)

	const inFlight = 5
	clients := make([]*Client, 0, inFlight)
	for i := 0; i < inFlight; i++ {
		client, err := Dial(handle.Addr().String(), 2*time.Second)
		if err != nil {
			t.Fatalf("Dial failed: %v", err)
		}
		clients = append(clients, client)
	}

	// Let the accept loop pick up all connections before stopping.
	time.Sleep(100 * time.Millisecond)
	handle.Stop()

	// In-flight connections finish their cycles after stop.
	for i, client := range clients {
		content := fmt.Sprintf("in-flight %d", i)
		resp, err := client.SendReceive(EchoMessage{Content: content})
		if err != nil {
			t.Fatalf("client %d failed after stop: %v", i, err)
		}
		if echo, ok := resp.(EchoResponse); !ok || echo.Content != content {
			t.Errorf("client %d got %#v", i, resp)
		}
		client.Close()
	}

	start := time.Now()
	if err := handle.Wait(); err != nil {
		t.Errorf("Wait returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Wait took %v, want prompt drain", elapsed)
	}
}

func TestServer_NoAcceptAfterStop(t *testing.T) {
	handle := startTestServer(t)
	stopAndWait(t, handle)

	if _, err := net.DialTimeout("tcp", handle.Addr().String(), 500*time.Millisecond); err == nil {
		t.Error("expected connection to fail after stop")
	}
}
