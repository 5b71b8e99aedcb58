package tlsutil

import (
	"bufio"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

const (
	sniffTimeout     = 5 * time.Second
	handshakeRecord  = 0x16
	splitQueueLength = 64
)

// Splitter accepts connections on one port and separates TLS clients
// from plain HTTP ones by the first byte of the stream.
type Splitter struct {
	inner  net.Listener
	config *tls.Config

	plain  *queue
	secure *queue

	once sync.Once
	done chan struct{}
}

// Split starts routing connections accepted by inner
func Split(inner net.Listener, config *tls.Config) *Splitter {
	s := &Splitter{
		inner:  inner,
		config: config,
		done:   make(chan struct{}),
	}
	s.plain = &queue{conns: make(chan net.Conn, splitQueueLength), done: s.done, addr: inner.Addr()}
	s.secure = &queue{conns: make(chan net.Conn, splitQueueLength), done: s.done, addr: inner.Addr()}

	go s.accept()
	return s
}

// Plain returns the listener of non-TLS connections
func (s *Splitter) Plain() net.Listener { return s.plain }

// Secure returns the listener of TLS connections, already wrapped
func (s *Splitter) Secure() net.Listener { return s.secure }

// Addr returns the shared address
func (s *Splitter) Addr() net.Addr { return s.inner.Addr() }

// Close stops both listeners and the underlying one
func (s *Splitter) Close() error {
	s.once.Do(func() { close(s.done) })
	return s.inner.Close()
}

func (s *Splitter) accept() {
	for {
		conn, err := s.inner.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.Close()
			return
		}
		go s.route(conn)
	}
}

func (s *Splitter) route(conn net.Conn) {
	br := bufio.NewReader(conn)

	conn.SetReadDeadline(time.Now().Add(sniffTimeout))
	first, err := br.Peek(1)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		conn.Close()
		return
	}

	var c net.Conn = &bufferedConn{Conn: conn, r: br}
	target := s.plain
	if first[0] == handshakeRecord {
		c = tls.Server(c, s.config)
		target = s.secure
	}

	select {
	case target.conns <- c:
	case <-s.done:
		c.Close()
	}
}

type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) { return c.r.Read(p) }

type queue struct {
	conns chan net.Conn
	done  chan struct{}
	addr  net.Addr
}

func (q *queue) Accept() (net.Conn, error) {
	select {
	case c := <-q.conns:
		return c, nil
	case <-q.done:
		return nil, net.ErrClosed
	}
}

// Close is a no-op; the Splitter owns the socket
func (q *queue) Close() error { return nil }

func (q *queue) Addr() net.Addr { return q.addr }

// RedirectHandler sends plain HTTP requests to the same URL over https
func RedirectHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := *r.URL
		u.Scheme = "https"
		u.Host = r.Host
		http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
	})
}
