package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer upgrades connections and echoes every text message back.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(msgType, data); err != nil {
				return
			}
		}
	}))
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConnSendReceive(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	conn := NewConn(ConnConfig{URL: wsURL(server)})
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Send(ctx, []byte("ping")); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	data, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("receive failed: %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("expected ping, got %q", data)
	}
}

func TestConnReceiveHonorsCancellation(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	conn := NewConn(ConnConfig{URL: wsURL(server)})
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := conn.Receive(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestConnCloseIsIdempotent(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	conn := NewConn(ConnConfig{URL: wsURL(server)})
	if err := conn.Dial(context.Background()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if !conn.IsClosed() {
		t.Error("expected IsClosed after Close")
	}
	if err := conn.Send(context.Background(), []byte("late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := conn.Receive(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDialWithRetryGivesUp(t *testing.T) {
	conn := NewConn(ConnConfig{
		URL:              "ws://127.0.0.1:1", // nothing listens here
		MaxRetries:       2,
		RetryBackoffBase: time.Millisecond,
		RetryBackoffMax:  5 * time.Millisecond,
	})

	start := time.Now()
	err := conn.DialWithRetry(context.Background())
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("retries took too long: %v", elapsed)
	}
}

func TestDialWithRetryHonorsCancellation(t *testing.T) {
	conn := NewConn(ConnConfig{
		URL:              "ws://127.0.0.1:1",
		MaxRetries:       100,
		RetryBackoffBase: 50 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	if err := conn.DialWithRetry(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestJitteredBackoffStaysBounded(t *testing.T) {
	base := time.Second
	maxDelay := 30 * time.Second
	for i := 0; i < 1000; i++ {
		d := jitteredBackoff(base, maxDelay)
		if d < 0 || d > maxDelay {
			t.Fatalf("backoff %v outside [0, %v]", d, maxDelay)
		}
	}
	// Jitter is +-25% of the capped delay.
	for i := 0; i < 1000; i++ {
		d := jitteredBackoff(time.Minute, maxDelay)
		if d > maxDelay {
			t.Fatalf("capped backoff %v exceeds max %v", d, maxDelay)
		}
	}
}

func TestServerConnRoundTrip(t *testing.T) {
	accepted := make(chan *ServerConn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := Accept(w, r)
		if err != nil {
			return
		}
		accepted <- sc
	}))
	defer server.Close()

	dialer := websocket.Dialer{}
	client, resp, err := dialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = client.Close() }()

	var sc *ServerConn
	select {
	case sc = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted")
	}
	defer func() { _ = sc.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	data, err := sc.Receive(ctx)
	if err != nil {
		t.Fatalf("server receive failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}

	if err := sc.Send(ctx, []byte("world")); err != nil {
		t.Fatalf("server send failed: %v", err)
	}
	_, reply, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if string(reply) != "world" {
		t.Errorf("expected world, got %q", reply)
	}
}

func TestServerConnCloseUnblocksReceive(t *testing.T) {
	accepted := make(chan *ServerConn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sc, err := Accept(w, r)
		if err != nil {
			return
		}
		accepted <- sc
	}))
	defer server.Close()

	client, resp, err := websocket.DefaultDialer.Dial(wsURL(server), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = client.Close() }()

	sc := <-accepted

	recvErr := make(chan error, 1)
	go func() {
		_, err := sc.Receive(context.Background())
		recvErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	if err := sc.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	select {
	case err := <-recvErr:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("receive never unblocked")
	}
}
