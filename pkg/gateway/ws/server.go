package ws

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	Route          = "/ws"
	sendQueueSize  = 64
	maxMessageSize = 1024
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
)

var ErrClosed = errors.New("websocket gateway closed")

// Server exposes the bridge line protocol over websocket.
// Every text message received from a client is one command line, every
// line written to the server is broadcast to all connected clients.
// Server is the host link of the bridge : it implements io.ReadWriteCloser.
type Server struct {
	upgrader websocket.Upgrader
	serveMux *http.ServeMux
	nextID   int64

	clientsMu sync.Mutex
	clients   map[int64]*client

	// Commands from every client, in arrival order
	pr *io.PipeReader
	pw *io.PipeWriter

	outMu   sync.Mutex
	partial []byte

	httpMu     sync.Mutex
	httpServer *http.Server
	closed     bool
	closeOnce  sync.Once
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan []byte
	done   chan struct{}
	once   sync.Once
}

func NewServer() *Server {
	pr, pw := io.Pipe()
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*client),
		pr:      pr,
		pw:      pw,
	}
	s.serveMux = http.NewServeMux()
	s.serveMux.HandleFunc(Route, s.handleWebSocket)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.serveMux.ServeHTTP(w, r)
}

// Process server, blocking. Returns http.ErrServerClosed after Close.
func (s *Server) ListenAndServe(addr string) error {
	s.httpMu.Lock()
	if s.closed {
		s.httpMu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{Addr: addr, Handler: s.serveMux}
	server := s.httpServer
	s.httpMu.Unlock()
	log.Infof("[WS] listening on %v%v", addr, Route)
	return server.ListenAndServe()
}

// Read command bytes received from the clients
func (s *Server) Read(p []byte) (int, error) {
	return s.pr.Read(p)
}

// Write device output, complete lines are broadcast without their terminator
func (s *Server) Write(p []byte) (int, error) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.partial = append(s.partial, p...)
	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i == -1 {
			break
		}
		line := bytes.TrimSuffix(s.partial[:i], []byte("\r"))
		s.broadcast(append([]byte{}, line...))
		s.partial = s.partial[i+1:]
	}
	return len(p), nil
}

// Close stops listening, disconnects every client and ends Read with io.EOF
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.httpMu.Lock()
		s.closed = true
		if s.httpServer != nil {
			err = s.httpServer.Close()
		}
		s.httpMu.Unlock()
		s.clientsMu.Lock()
		clients := make([]*client, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		s.clientsMu.Unlock()
		for _, c := range clients {
			c.close()
		}
		_ = s.pw.Close()
	})
	return err
}

// Number of connected clients
func (s *Server) Clients() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

func (s *Server) broadcast(line []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for _, c := range s.clients {
		c.send(line)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("[WS] upgrade error : %v", err)
		return
	}
	c := &client{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
		done:   make(chan struct{}),
	}
	s.clientsMu.Lock()
	s.clients[c.id] = c
	s.clientsMu.Unlock()
	log.Infof("[WS] client %v connected from %v", c.id, r.RemoteAddr)

	go c.writePump()
	s.readPump(c) // Blocks until connection closes
}

func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c.id)
	s.clientsMu.Unlock()
	log.Infof("[WS] client %v disconnected", c.id)
}

func (s *Server) readPump(c *client) {
	defer func() {
		s.removeClient(c)
		c.close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		msgType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warnf("[WS] read error on client %v : %v", c.id, err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Debugf("[WS] ignoring message of type %v from client %v", msgType, c.id)
			continue
		}
		message = bytes.TrimRight(message, "\r\n")
		if _, err := s.pw.Write(append(message, '\n')); err != nil {
			log.Debugf("[WS] dropping command from client %v : %v", c.id, err)
			return
		}
	}
}

func (c *client) send(line []byte) {
	select {
	case c.sendCh <- line:
	case <-c.done:
	default:
		log.Warnf("[WS] dropping line for client %v (queue full)", c.id)
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case line := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, line); err != nil {
				log.Warnf("[WS] write error on client %v : %v", c.id, err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
