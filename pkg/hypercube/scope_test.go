package hypercube

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

func wsURL(t *testing.T, baseURL, path string) string {
	t.Helper()
	if !strings.HasPrefix(baseURL, "http") {
		t.Fatalf("unexpected base URL: %q", baseURL)
	}
	return "ws" + strings.TrimPrefix(baseURL, "http") + path
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%q) failed: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func startScope(t *testing.T, setup func(*Scope)) (*Scope, string) {
	t.Helper()
	sc := NewScope("/", quietConfig(), setup)
	ts := httptest.NewServer(sc)
	t.Cleanup(ts.Close)
	return sc, wsURL(t, ts.URL, "/")
}

func writeText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("write %q failed: %v", text, err)
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if typ != websocket.TextMessage {
		t.Fatalf("message type = %d, want text", typ)
	}
	return string(msg)
}

func expectClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("read = %q, %v; want normal close", msg, err)
	}
}

func TestScope_Echo(t *testing.T) {
	_, url := startScope(t, func(sc *Scope) {
		On(sc, "echo", func(s *Session, str string) {
			s.Send("ECHO " + str)
		})
	})
	conn := dialWS(t, url)

	writeText(t, conn, `{"event":"echo","data":"hello"}`)
	if got := readText(t, conn); got != "ECHO hello" {
		t.Fatalf("got %q, want %q", got, "ECHO hello")
	}
}

func TestScope_CallbackWithoutData(t *testing.T) {
	_, url := startScope(t, func(sc *Scope) {
		sc.On("ping", func(s *Session) { s.Send("pong") })
	})
	conn := dialWS(t, url)

	writeText(t, conn, `{"event":"ping"}`)
	if got := readText(t, conn); got != "pong" {
		t.Fatalf("got %q, want pong", got)
	}
}

func TestScope_OpenHookBeforeRouting(t *testing.T) {
	_, url := startScope(t, func(sc *Scope) {
		sc.OnOpen(func(s *Session) { s.Send("hello") })
		sc.On("ping", func(s *Session) { s.Send("pong") })
	})
	conn := dialWS(t, url)

	writeText(t, conn, `{"event":"ping"}`)
	if got := readText(t, conn); got != "hello" {
		t.Fatalf("first message = %q, want hello", got)
	}
	if got := readText(t, conn); got != "pong" {
		t.Fatalf("second message = %q, want pong", got)
	}
}

func TestScope_EmitMessage(t *testing.T) {
	_, url := startScope(t, func(sc *Scope) {
		On(sc, "echo", func(s *Session, str string) { s.Emit("message", str) })
	})
	conn := dialWS(t, url)

	writeText(t, conn, `{"event":"echo","data":"hello"}`)
	if got, want := readText(t, conn), `{"event":"message","data":"hello"}`; got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestScope_CloseFromHandler(t *testing.T) {
	closed := make(chan string, 1)
	var sc *Scope
	var present bool
	sc, url := startScope(t, func(s *Scope) {
		s.On("bye", func(sess *Session) {
			sess.Send("bye")
			sess.Close()
		})
		s.OnClose(func(id string) {
			present = sc.Sessions().Get(id) != nil
			closed <- id
		})
	})
	conn := dialWS(t, url)

	writeText(t, conn, `{"event":"bye"}`)
	if got := readText(t, conn); got != "bye" {
		t.Fatalf("got %q, want bye", got)
	}
	expectClose(t, conn)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close hook did not run")
	}
	if present {
		t.Fatal("session still registered when the close hook ran")
	}
	if n := sc.Sessions().Count(); n != 0 {
		t.Fatalf("registry count = %d, want 0", n)
	}

	// The stream has ended: nothing further can be sent.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"bye"}`)); err == nil {
		t.Fatal("write after close succeeded")
	}
}

func TestScope_ParsingErrorHookCanClose(t *testing.T) {
	inputs := []string{
		`{"event":"int","data":"hello"}`,
		`{"event":"int","data":"he`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, url := startScope(t, func(sc *Scope) {
				On(sc, "int", func(*Session, int) { t.Error("int handler ran") })
				sc.OnParsingError(func(s *Session) { s.Close() })
			})
			conn := dialWS(t, url)

			writeText(t, conn, in)
			expectClose(t, conn)
		})
	}
}

func TestScope_UnknownEventHook(t *testing.T) {
	inputs := []string{`{"event":"string","data":"hello"}`, `{"event":"string"}`}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			events := make(chan string, 1)
			_, url := startScope(t, func(sc *Scope) {
				sc.On("hello", func(*Session) { t.Error("hello ran") })
				On(sc, "int", func(*Session, int) { t.Error("int ran") })
				sc.OnUnknownEvent(func(s *Session, event string) {
					events <- event
					s.Close()
				})
			})
			conn := dialWS(t, url)

			writeText(t, conn, in)
			expectClose(t, conn)
			if got := <-events; got != "string" {
				t.Fatalf("unknown event = %q, want string", got)
			}
		})
	}
}

func TestScope_BroadcastToAllSessions(t *testing.T) {
	var sc *Scope
	sc, url := startScope(t, func(s *Scope) {
		On(s, "message", func(_ *Session, content string) {
			if err := sc.Broadcast("message", content); err != nil {
				t.Errorf("Broadcast() error: %v", err)
			}
		})
	})

	a := dialWS(t, url)
	waitFor(t, "A registered", func() bool { return sc.Sessions().Count() == 1 })
	b := dialWS(t, url)
	waitFor(t, "B registered", func() bool { return sc.Sessions().Count() == 2 })

	writeText(t, a, `{"event":"message","data":"hi"}`)

	want := `{"event":"message","data":"hi"}`
	if got := readText(t, a); got != want {
		t.Errorf("A got %s, want %s", got, want)
	}
	if got := readText(t, b); got != want {
		t.Errorf("B got %s, want %s", got, want)
	}

	// Each session received exactly one copy.
	for name, conn := range map[string]*websocket.Conn{"A": a, "B": b} {
		_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		if _, msg, err := conn.ReadMessage(); err == nil {
			t.Errorf("%s received an extra message %s", name, msg)
		}
	}
}

func TestScope_BroadcastRawAfterLeave(t *testing.T) {
	var sc *Scope
	sc, url := startScope(t, func(s *Scope) {
		On(s, "message", func(_ *Session, content string) { sc.BroadcastRaw(content) })
	})

	a := dialWS(t, url)
	waitFor(t, "A registered", func() bool { return sc.Sessions().Count() == 1 })
	b := dialWS(t, url)
	waitFor(t, "B registered", func() bool { return sc.Sessions().Count() == 2 })

	var log1, log2 []string
	writeText(t, a, `{"event":"message","data":"hello"}`)
	log1 = append(log1, readText(t, a))
	log2 = append(log2, readText(t, b))

	_ = b.Close()
	waitFor(t, "B removed", func() bool { return sc.Sessions().Count() == 1 })

	writeText(t, a, `{"event":"message","data":"world"}`)
	log1 = append(log1, readText(t, a))

	if want := []string{"hello", "world"}; !slices.Equal(log1, want) {
		t.Errorf("A log = %v, want %v", log1, want)
	}
	if want := []string{"hello"}; !slices.Equal(log2, want) {
		t.Errorf("B log = %v, want %v", log2, want)
	}
}

func TestScope_ManySessionsBroadcast(t *testing.T) {
	sc, url := startScope(t, nil)

	const n = 8
	conns := make([]*websocket.Conn, 0, n)
	for i := 0; i < n; i++ {
		conns = append(conns, dialWS(t, url))
	}
	waitFor(t, "all registered", func() bool { return sc.Sessions().Count() == n })

	if err := sc.Broadcast("news", map[string]int{"n": 1}); err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *websocket.Conn) {
			defer wg.Done()
			_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, msg, err := c.ReadMessage()
			if err != nil || string(msg) != `{"event":"news","data":{"n":1}}` {
				t.Errorf("session %d got %s, %v", i, msg, err)
			}
		}(i, c)
	}
	wg.Wait()
}

func TestScope_Shutdown(t *testing.T) {
	var mu sync.Mutex
	var closedIDs []string
	sc, url := startScope(t, func(s *Scope) {
		s.OnClose(func(id string) {
			mu.Lock()
			closedIDs = append(closedIDs, id)
			mu.Unlock()
		})
	})

	a := dialWS(t, url)
	b := dialWS(t, url)
	waitFor(t, "both registered", func() bool { return sc.Sessions().Count() == 2 })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	expectClose(t, a)
	expectClose(t, b)

	mu.Lock()
	n := len(closedIDs)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("close hook ran %d times, want 2", n)
	}
	if err := sc.Shutdown(ctx); !errors.Is(err, ErrScopeClosed) {
		t.Fatalf("second Shutdown() error = %v, want ErrScopeClosed", err)
	}

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil {
		t.Fatal("Dial() after shutdown succeeded")
	} else if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Dial() after shutdown: resp=%v err=%v, want 503", resp, err)
	}
}

func TestScope_ShutdownRacingServe(t *testing.T) {
	sc := NewScope("/", quietConfig(), nil)

	const n = 50
	conns := make([]*fakeConn, n)
	for i := range conns {
		conns[i] = newFakeConn()
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, c := range conns {
		wg.Add(1)
		go func(c *fakeConn) {
			defer wg.Done()
			<-start
			sc.Serve(c, nil)
		}(c)
	}

	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sc.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}

	// Every session admitted before Shutdown has been closed and waited
	// for; later ones were refused.
	if got := sc.Sessions().Count(); got != 0 {
		t.Fatalf("Count() after Shutdown = %d, want 0", got)
	}

	served := make(chan struct{})
	go func() {
		wg.Wait()
		close(served)
	}()
	waitClosed(t, served)

	for i, c := range conns {
		if c.closeFrames() != 1 {
			t.Errorf("conn %d got %d close frames, want 1", i, c.closeFrames())
		}
	}
	if stats := sc.Sessions().Stats(); stats.TotalOpened != stats.TotalClosed {
		t.Errorf("Stats() = %+v, want opened == closed", stats)
	}
}

func TestMount_ChiRouter(t *testing.T) {
	r := chi.NewRouter()
	sc := Mount(r, "/hc", quietConfig(), func(sc *Scope) {
		sc.On("ping", func(s *Session) { s.Send("pong") })
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	if sc.Path() != "/hc" {
		t.Fatalf("Path() = %q, want /hc", sc.Path())
	}

	conn := dialWS(t, wsURL(t, ts.URL, "/hc"))
	writeText(t, conn, `{"event":"ping"}`)
	if got := readText(t, conn); got != "pong" {
		t.Fatalf("got %q, want pong", got)
	}

	resp, err := http.Get(ts.URL + "/other")
	if err != nil {
		t.Fatalf("GET /other: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /other status = %d, want 404", resp.StatusCode)
	}
}

func TestScope_RejectsCrossOrigin(t *testing.T) {
	_, url := startScope(t, nil)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("cross-origin Dial() succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross-origin Dial(): resp=%v, want 403", resp)
	}
}

func TestScope_MaxFrameSize(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxFrameSize = 64
	closed := make(chan struct{})
	sc := NewScope("/", cfg, func(sc *Scope) {
		sc.OnClose(func(string) { close(closed) })
	})
	ts := httptest.NewServer(sc)
	defer ts.Close()

	conn := dialWS(t, wsURL(t, ts.URL, "/"))
	writeText(t, conn, `{"event":"big","data":"`+strings.Repeat("x", 256)+`"}`)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("oversized frame did not end the connection")
	}
}

func TestScope_PingKeepsConnectionAlive(t *testing.T) {
	cfg := quietConfig()
	cfg.PingPeriod = 20 * time.Millisecond
	cfg.Timeout = 100 * time.Millisecond
	sc := NewScope("/", cfg, func(sc *Scope) {
		sc.On("ping", func(s *Session) { s.Send("pong") })
	})
	ts := httptest.NewServer(sc)
	defer ts.Close()

	conn := dialWS(t, wsURL(t, ts.URL, "/"))
	pings := make(chan struct{}, 16)
	conn.SetPingHandler(func(data string) error {
		select {
		case pings <- struct{}{}:
		default:
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	// Control frames are only processed while reading.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	time.Sleep(300 * time.Millisecond)
	if len(pings) == 0 {
		t.Fatal("no pings received")
	}
	if sc.Sessions().Count() != 1 {
		t.Fatal("connection dropped although pongs were sent")
	}
}
