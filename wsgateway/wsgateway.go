// Package wsgateway is the WebSocket surface: it relays streamed response
// packets to one connected client and accepts prompt submissions from it.
// Clients authenticate with a shared-secret JWT passed as the access_token
// query parameter.
package wsgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/engramic/engramic-go/bus"
	"github.com/engramic/engramic-go/config"
	"github.com/engramic/engramic-go/core"
	"github.com/engramic/engramic-go/exec"
	"github.com/engramic/engramic-go/service"
)

// Close codes for authentication failures.
const (
	CloseMissingToken = 4001
	CloseInvalidToken = 4002
)

var packetsRelayedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "engramic_ws_packets_relayed_total",
	Help: "Stream packets relayed to the WebSocket client.",
})

// submitRequest is the client-to-server message shape.
type submitRequest struct {
	PromptStr      string   `json:"prompt_str"`
	RepoIDsFilters []string `json:"repo_ids_filters,omitempty"`
	TrainingMode   bool     `json:"training_mode,omitempty"`
}

// sendBuffer bounds how far a client may fall behind the stream before the
// gateway drops it.
const sendBuffer = 256

// client is one adopted connection. All frame writes go through its writer
// goroutine; bus handlers only enqueue.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// stop signals the writer to close the connection and exit. Idempotent.
func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Service is the WebSocket gateway.
type Service struct {
	service.Base
	cfg    config.WebSocketConfig
	secret []byte

	server   *http.Server
	addr     string
	upgrader websocket.Upgrader

	// mu guards the adopted client.
	mu     sync.Mutex
	client *client
}

// New creates the gateway. The secret signs and verifies access tokens.
func New(logger *slog.Logger, b bus.Bus, executor *exec.Executor, cfg config.WebSocketConfig, secret []byte) *Service {
	return &Service{
		Base:   service.NewBase("wsgateway", logger, b, executor),
		cfg:    cfg,
		secret: secret,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Service) InitAsync(ctx context.Context) error {
	if err := s.Base.InitAsync(ctx); err != nil {
		return err
	}
	return s.Bus.Subscribe(bus.TopicResponseSubmitMessage, s.onResponseMessage)
}

// Start binds the listener and serves in the background.
func (s *Service) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.server = &http.Server{Handler: mux}
	s.addr = listener.Addr().String()

	s.Exec.RunBackground("ws_serve", func(ctx context.Context) error {
		err := s.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	s.Log.Info("websocket surface listening", "addr", s.addr)
	return nil
}

// Addr returns the bound listen address, available after Start.
func (s *Service) Addr() string {
	return s.addr
}

// Stop closes the active connection and shuts the server down.
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	cl := s.client
	s.client = nil
	s.mu.Unlock()
	if cl != nil {
		cl.stop()
	}

	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleWS authenticates and adopts the connection. Only one relay
// connection is active at a time; a newcomer displaces the previous one.
func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("upgrade failed", "error", err)
		return
	}

	if token == "" {
		s.closeWith(conn, CloseMissingToken, "missing access token")
		return
	}
	if err := s.verifyToken(token); err != nil {
		s.Log.Warn("rejected websocket client", "error", err)
		s.closeWith(conn, CloseInvalidToken, "invalid access token")
		return
	}

	cl := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	s.mu.Lock()
	if s.client != nil {
		s.client.stop()
	}
	s.client = cl
	s.mu.Unlock()

	s.Exec.RunBackground("ws_write", func(ctx context.Context) error {
		s.writeLoop(ctx, cl)
		return nil
	})

	s.Log.Info("websocket client connected", "remote", conn.RemoteAddr().String())
	s.readLoop(r.Context(), cl)
}

// writeLoop owns every frame write for one connection.
func (s *Service) writeLoop(ctx context.Context, cl *client) {
	defer func() { _ = cl.conn.Close() }()
	for {
		select {
		case data := <-cl.send:
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Log.Warn("client write failed, dropping connection", "error", err)
				s.drop(cl)
				return
			}
			packetsRelayedTotal.Inc()
			s.Track("packets_relayed")
		case <-cl.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drop detaches cl if it is still the adopted client and stops its writer.
func (s *Service) drop(cl *client) {
	s.mu.Lock()
	if s.client == cl {
		s.client = nil
	}
	s.mu.Unlock()
	cl.stop()
}

func (s *Service) closeWith(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

// verifyToken checks an HS256 JWT against the shared secret.
func (s *Service) verifyToken(token string) error {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("token is not valid")
	}
	return nil
}

// readLoop consumes prompt submissions until the connection drops.
func (s *Service) readLoop(ctx context.Context, cl *client) {
	defer s.drop(cl)
	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			return
		}

		var req submitRequest
		if err := json.Unmarshal(data, &req); err != nil {
			s.Log.Warn("bad submit payload", "error", err)
			continue
		}
		if err := s.submitPrompt(ctx, &req); err != nil {
			s.Log.Warn("prompt rejected", "error", err)
			s.sendPacket(core.StreamPacket{Text: err.Error(), IsTerminal: true, Marker: "error"})
		}
	}
}

// submitPrompt registers the prompt with the progress tracker and hands it
// to retrieval.
func (s *Service) submitPrompt(ctx context.Context, req *submitRequest) error {
	var opts []core.PromptOption
	if req.RepoIDsFilters != nil {
		opts = append(opts, core.WithRepoFilters(req.RepoIDsFilters))
	}
	if req.TrainingMode {
		opts = append(opts, core.WithTrainingMode(true))
	}

	prompt, err := core.NewPrompt(req.PromptStr, opts...)
	if err != nil {
		return err
	}

	if err := s.Bus.Publish(ctx, bus.TopicPromptCreated, bus.PromptCreated{
		PromptID:   prompt.PromptID,
		TargetID:   prompt.PromptID,
		TrackingID: prompt.TrackingID,
	}); err != nil {
		return err
	}
	return s.Bus.Publish(ctx, bus.TopicSubmitPrompt, prompt)
}

func (s *Service) onResponseMessage(ctx context.Context, data []byte) {
	var msg bus.ResponseMessage
	if err := bus.Decode(data, &msg); err != nil {
		s.Log.Error("bad response message", "error", err)
		return
	}
	s.sendPacket(msg.Packet)
}

// sendPacket enqueues one stream packet for the writer. A missing client is
// not an error; the stream simply has no audience. A full buffer means the
// client cannot keep up and it is dropped rather than stalling the bus.
func (s *Service) sendPacket(packet core.StreamPacket) {
	data, err := json.Marshal(packet)
	if err != nil {
		s.Log.Error("cannot marshal packet", "error", err)
		return
	}

	s.mu.Lock()
	cl := s.client
	s.mu.Unlock()
	if cl == nil {
		return
	}

	select {
	case cl.send <- data:
	case <-cl.done:
	default:
		s.Log.Warn("client cannot keep up, dropping connection")
		s.drop(cl)
	}
}
