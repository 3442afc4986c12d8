// ABOUTME: Websocket stream server that fans decoded audio out to network clients
// ABOUTME: Implements the player sink interface and serves a JSON status endpoint
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/resonated/internal/logging"
	"github.com/Resonate-Protocol/resonated/internal/pipe"
	"github.com/Resonate-Protocol/resonated/internal/protocol"
	"github.com/Resonate-Protocol/resonated/pkg/audio"
	"github.com/Resonate-Protocol/resonated/pkg/tag"
)

const (
	// PlayoutDelay is added to the server clock to stamp outgoing audio.
	PlayoutDelay = 500 * time.Millisecond

	sendQueue     = 256
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Port int
	Name string
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Remote    string    `json:"remote"`
	Codec     string    `json:"codec"`
	Connected time.Time `json:"connected"`
}

// Server streams the current song to websocket clients.
type Server struct {
	cfg      Config
	log      *slog.Logger
	serverID string
	upgrader websocket.Upgrader
	mux      *http.ServeMux

	clockStart time.Time

	mu       sync.RWMutex
	clients  map[string]*client
	format   audio.Format
	meta     *protocol.StreamMetadata
	status   func() any
	shutdown bool

	wg sync.WaitGroup
}

type client struct {
	info  ClientInfo
	conn  *websocket.Conn
	send  chan any
	opus  *opusEncoder
	codec string
	// samples is scratch space for the opus path
	samples []int16
	once    sync.Once
}

// New creates a server. Nothing listens until Run or Handler is used.
func New(logger *slog.Logger, cfg Config) *Server {
	s := &Server{
		cfg:        cfg,
		log:        logging.Or(logger),
		serverID:   uuid.New().String(),
		clockStart: time.Now(),
		clients:    make(map[string]*client),
		mux:        http.NewServeMux(),
		upgrader: websocket.Upgrader{
			// trusted local networks only; non-browser clients send no Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.mux.HandleFunc("/stream", s.handleWebSocket)
	s.mux.HandleFunc("/status", s.handleStatus)
	return s
}

// Handler returns the HTTP handler serving /stream and /status.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// SetStatus installs the provider for the "player" field of /status.
func (s *Server) SetStatus(fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = fn
}

// Run listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
	s.log.Info("stream server listening", "addr", ln.Addr().String(), "name", s.cfg.Name, "id", s.serverID)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
	case serverErr = <-errCh:
		s.log.Error("http server failed", "err", serverErr)
	}

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http server shutdown error", "err", err)
	}
	s.closeClients()
	s.wg.Wait()
	s.log.Info("stream server stopped")

	if serverErr != nil {
		return fmt.Errorf("http server failed: %w", serverErr)
	}
	return nil
}

// Clients returns the connected clients sorted by connect time.
func (s *Server) Clients() []ClientInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ClientInfo, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Connected.Before(out[j].Connected) })
	return out
}

// Open announces a new song format to every client.
func (s *Server) Open(f audio.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.format = f
	for _, c := range s.clients {
		s.startLocked(c)
	}
	return nil
}

// Write stamps the chunk with its playout time and queues it for every
// client. Slow clients lose frames rather than stall playback.
func (s *Server) Write(ch *pipe.Chunk) error {
	ts := s.clockMicros() + PlayoutDelay.Microseconds()
	data := ch.Data()

	s.mu.RLock()
	defer s.mu.RUnlock()
	f := s.format
	var frame []byte
	for _, c := range s.clients {
		if c.opus == nil {
			if frame == nil {
				frame = protocol.AudioChunk(ts, data)
			}
			s.enqueue(c, frame)
			continue
		}

		n := len(data) / 2
		if cap(c.samples) < n {
			c.samples = make([]int16, n)
		}
		n = audio.ToInt16(c.samples[:n], data, f.BitDepth)
		err := c.opus.write(ts, c.samples[:n], func(ts int64, packet []byte) {
			s.enqueue(c, protocol.AudioChunk(ts, packet))
		})
		if err != nil {
			s.log.Warn("opus encoding failed", "client", c.info.ID, "err", err)
		}
	}
	return nil
}

// Metadata broadcasts the tag of the current song.
func (s *Server) Metadata(t *tag.Tag) {
	meta := metadataFromTag(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
	for _, c := range s.clients {
		s.sendMessage(c, protocol.TypeStreamMetadata, meta)
	}
}

// Close disconnects every client. The HTTP listener is owned by Serve.
func (s *Server) Close() error {
	s.closeClients()
	return nil
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.clients {
		c.conn.Close()
	}
}

func metadataFromTag(t *tag.Tag) *protocol.StreamMetadata {
	meta := &protocol.StreamMetadata{
		Title:       t.Get(tag.Title),
		Artist:      t.Get(tag.Artist),
		Album:       t.Get(tag.Album),
		AlbumArtist: t.Get(tag.AlbumArtist),
		Track:       t.Get(tag.Track),
	}
	if t.HasDuration() {
		ms := t.Duration.Milliseconds()
		meta.DurationMs = &ms
	}
	return meta
}

// startLocked picks the codec for c and sends stream/start.
func (s *Server) startLocked(c *client) {
	if !s.format.IsDefined() {
		return
	}
	codec := protocol.CodecPCM
	if c.codec == protocol.CodecOpus && opusSupported(s.format) {
		if c.opus == nil || c.opus.channels != s.format.Channels || c.opus.sourceRate() != s.format.SampleRate {
			enc, err := newOpusEncoder(s.log, s.format)
			if err != nil {
				s.log.Warn("falling back to pcm", "client", c.info.ID, "err", err)
				c.opus = nil
			} else {
				c.opus = enc
			}
		}
		if c.opus != nil {
			c.opus.reset()
			codec = protocol.CodecOpus
		}
	} else {
		c.opus = nil
	}
	c.info.Codec = codec

	start := protocol.StreamStart{
		Codec:      codec,
		SampleRate: s.format.SampleRate,
		Channels:   s.format.Channels,
		BitDepth:   s.format.BitDepth,
	}
	if codec == protocol.CodecOpus {
		start.SampleRate, start.BitDepth = opusSampleRate, 16
	}
	s.sendMessage(c, protocol.TypeStreamStart, start)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	statusFn := s.status
	s.mu.RUnlock()

	resp := struct {
		ServerID string       `json:"server_id"`
		Name     string       `json:"name"`
		Version  int          `json:"version"`
		Clients  []ClientInfo `json:"clients"`
		Player   any          `json:"player,omitempty"`
	}{
		ServerID: s.serverID,
		Name:     s.cfg.Name,
		Version:  protocol.Version,
		Clients:  s.Clients(),
	}
	if statusFn != nil {
		resp.Player = statusFn()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debug("status write failed", "err", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	s.handleConnection(conn, r)
}

func (s *Server) handleConnection(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()

	c := &client{
		info: ClientInfo{
			ID:        uuid.New().String(),
			Remote:    r.RemoteAddr,
			Codec:     protocol.CodecPCM,
			Connected: time.Now(),
		},
		conn:  conn,
		send:  make(chan any, sendQueue),
		codec: r.URL.Query().Get("codec"),
	}
	c.info.Name = r.URL.Query().Get("name")
	if c.info.Name == "" {
		c.info.Name = c.info.ID
	}

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.log.Info("rejecting connection during shutdown", "remote", r.RemoteAddr)
		return
	}
	s.clients[c.info.ID] = c
	s.sendMessage(c, protocol.TypeServerHello, protocol.ServerHello{
		ServerID: s.serverID,
		ClientID: c.info.ID,
		Name:     s.cfg.Name,
		Version:  protocol.Version,
	})
	s.startLocked(c)
	if s.meta != nil {
		s.sendMessage(c, protocol.TypeStreamMetadata, s.meta)
	}
	s.wg.Add(1)
	s.mu.Unlock()
	s.log.Info("client connected", "client", c.info.ID, "name", c.info.Name, "remote", c.info.Remote)

	go func() {
		defer s.wg.Done()
		s.clientWriter(c)
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c.info.ID)
		c.once.Do(func() { close(c.send) })
		s.mu.Unlock()
		s.log.Info("client disconnected", "client", c.info.ID, "name", c.info.Name)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("websocket read failed", "client", c.info.ID, "err", err)
			}
			return
		}
		s.handleClientMessage(c, data)
	}
}

// clientWriter sends queued messages and keeps the connection alive.
func (s *Server) clientWriter(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			var err error
			switch v := msg.(type) {
			case []byte:
				err = c.conn.WriteMessage(websocket.BinaryMessage, v)
			default:
				err = c.conn.WriteJSON(v)
			}
			if err != nil {
				s.log.Debug("websocket write failed", "client", c.info.ID, "err", err)
				c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleClientMessage(c *client, data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Debug("bad client message", "client", c.info.ID, "err", err)
		return
	}

	switch msg.Type {
	case protocol.TypeClientTime:
		// capture receive time as early as possible
		recv := s.clockMicros()
		var ct protocol.ClientTime
		if err := json.Unmarshal(msg.Payload, &ct); err != nil {
			s.log.Debug("bad client/time", "client", c.info.ID, "err", err)
			return
		}
		s.mu.RLock()
		s.sendMessage(c, protocol.TypeServerTime, protocol.ServerTime{
			ClientTransmitted: ct.ClientTransmitted,
			ServerReceived:    recv,
			ServerTransmitted: s.clockMicros(),
		})
		s.mu.RUnlock()
	case protocol.TypeClientHello:
		var hello protocol.ClientHello
		if err := json.Unmarshal(msg.Payload, &hello); err != nil || hello.Name == "" {
			return
		}
		s.mu.Lock()
		c.info.Name = hello.Name
		s.mu.Unlock()
	default:
		s.mu.RLock()
		s.sendMessage(c, protocol.TypeServerError, protocol.Error{
			Error:   "unknown_message",
			Message: "unknown message type " + strconv.Quote(msg.Type),
		})
		s.mu.RUnlock()
	}
}

// sendMessage queues a JSON message. Callers hold s.mu.
func (s *Server) sendMessage(c *client, msgType string, payload any) {
	s.enqueue(c, protocol.Message{Type: msgType, Payload: payload})
}

// enqueue never blocks. Callers hold s.mu, which keeps c.send open.
func (s *Server) enqueue(c *client, msg any) {
	select {
	case c.send <- msg:
	default:
		s.log.Debug("client send queue full, dropping message", "client", c.info.ID)
	}
}

// clockMicros returns the server clock in microseconds
func (s *Server) clockMicros() int64 {
	return time.Since(s.clockStart).Microseconds()
}
