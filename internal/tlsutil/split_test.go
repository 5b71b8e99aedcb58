package tlsutil

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newSplitter(t *testing.T) *Splitter {
	t.Helper()

	cert, err := Source{Dir: t.TempDir(), AutoGenerate: true}.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to create listener: %v", err)
	}
	s := Split(ln, ServerConfig(cert))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSplit_Addr(t *testing.T) {
	s := newSplitter(t)
	if s.Plain().Addr() != s.Addr() || s.Secure().Addr() != s.Addr() {
		t.Error("Split listeners should share the inner address")
	}
}

func TestSplit_PlainConnection(t *testing.T) {
	s := newSplitter(t)

	go func() {
		conn, err := net.Dial("tcp", s.Addr().String())
		if err != nil {
			return
		}
		defer conn.Close()
		conn.Write([]byte("GET / HTTP/1.1\r\n\r\n"))
		time.Sleep(200 * time.Millisecond)
	}()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := s.Plain().Accept()
		if err == nil {
			accepted <- c
		}
	}()

	select {
	case c := <-accepted:
		defer c.Close()
		buf := make([]byte, 3)
		if _, err := io.ReadFull(c, buf); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if string(buf) != "GET" {
			t.Errorf("Expected sniffed byte to be replayed, got %q", buf)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for plain connection")
	}
}

func TestSplit_TLSConnection(t *testing.T) {
	s := newSplitter(t)

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "secure")
	})}
	go srv.Serve(s.Secure())
	defer srv.Close()

	client := &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get("https://" + s.Addr().String() + "/")
	if err != nil {
		t.Fatalf("HTTPS request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "secure" {
		t.Errorf("Expected 'secure', got %q", body)
	}
}

func TestSplit_CloseStopsAccept(t *testing.T) {
	s := newSplitter(t)
	s.Close()

	if _, err := s.Plain().Accept(); err == nil {
		t.Error("Expected error after close")
	}
}

func TestRedirectHandler(t *testing.T) {
	req := httptest.NewRequest("GET", "http://console.local:8443/_ui/?deviceId=7", nil)
	w := httptest.NewRecorder()

	RedirectHandler().ServeHTTP(w, req)

	if w.Code != http.StatusPermanentRedirect {
		t.Errorf("Expected 308, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "https://console.local:8443/_ui/?deviceId=7" {
		t.Errorf("Unexpected location %q", loc)
	}
}
