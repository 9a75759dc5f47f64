package signal

import (
	"context"
	stderrors "errors"
	"net/http"
	"os"
	"sync"
	"time"

	"rtcstats/internal/core/domain"
	"rtcstats/internal/core/ports"
	"rtcstats/internal/infrastructure/middleware"
	"rtcstats/pkg/errors"
	"rtcstats/pkg/logger"
	"rtcstats/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	ReplyStored = "stored"
	ReplyError  = "error"
)

// Reply is written back for every submission frame.
type Reply struct {
	Type    string                    `json:"type"`
	Receipt *domain.SubmissionReceipt `json:"receipt,omitempty"`
	Error   string                    `json:"error,omitempty"`
	Message string                    `json:"message,omitempty"`
}

// Config controls the session ingestion socket.
type Config struct {
	TempDir         string
	MaxMessageBytes int64
	ProcessTimeout  time.Duration
	AllowedOrigins  []string
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// WebSocketServer accepts session submissions over a long lived socket, one
// submission per text frame, and answers each with a Reply.
type WebSocketServer struct {
	processor ports.SessionProcessor
	config    Config
	upgrader  websocket.Upgrader

	connections map[string]*websocket.Conn
	mu          sync.RWMutex

	logger *zap.SugaredLogger
}

func NewWebSocketServer(processor ports.SessionProcessor, cfg Config, log *zap.SugaredLogger) *WebSocketServer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	s := &WebSocketServer{
		processor:   processor,
		config:      cfg,
		connections: make(map[string]*websocket.Conn),
		logger:      log,
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
	}
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.config.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades an ingestion request. Submissions without an app
// are attributed to the app AuthMiddleware authenticated.
func (s *WebSocketServer) HandleWebSocket(c *gin.Context) {
	s.serve(c.Writer, c.Request, c.GetString(middleware.ContextKeyApp))
}

func (s *WebSocketServer) serve(w http.ResponseWriter, r *http.Request, app string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.mu.Lock()
	s.connections[connID] = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.connections, connID)
		s.mu.Unlock()
	}()

	s.logger.Infow("uploader connected via WebSocket", "conn_id", connID, "remote_addr", r.RemoteAddr, "app", app)

	if s.config.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.config.MaxMessageBytes)
	}
	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	messageChan := make(chan []byte, 1)
	errorChan := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				errorChan <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
			if messageType != websocket.TextMessage {
				continue
			}
			select {
			case messageChan <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case data := <-messageChan:
			reply := s.handleSubmission(r.Context(), connID, app, data)
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteJSON(reply); err != nil {
				s.logger.Infow("error writing reply", "conn_id", connID, "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "conn_id", connID, "error", err)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from uploader", "conn_id", connID, "error", err)
			}
			s.logger.Infow("uploader disconnected", "conn_id", connID)
			return
		}
	}
}

func (s *WebSocketServer) handleSubmission(ctx context.Context, connID, app string, data []byte) Reply {
	ctx, span := tracing.TraceWebSocketMessage(ctx, "session", connID)
	defer span.End()

	dumpPath, err := s.spool(data)
	if err != nil {
		return errorReply(errors.NewInternalError(err, "failed to spool dump"))
	}
	defer os.Remove(dumpPath)

	dump, err := os.Open(dumpPath)
	if err != nil {
		return errorReply(errors.NewInternalError(err, "failed to reopen dump"))
	}
	sub, err := domain.DecodeSubmission(dump)
	dump.Close()
	if err != nil {
		return errorReply(err)
	}
	sub.FillDefaults(app)
	sub.DumpPath = dumpPath

	ctx = logger.WithClientID(ctx, sub.ClientID)
	if s.config.ProcessTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.ProcessTimeout)
		defer cancel()
	}

	result, err := s.processor.Process(ctx, sub)
	if err != nil {
		s.logger.Infow("submission rejected", "conn_id", connID, "client_id", sub.ClientID, "error", err)
		return errorReply(err)
	}

	receipt := result.Receipt()
	return Reply{Type: ReplyStored, Receipt: &receipt}
}

func (s *WebSocketServer) spool(data []byte) (string, error) {
	f, err := os.CreateTemp(s.config.TempDir, "rtcstats-dump-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func errorReply(err error) Reply {
	if stderrors.Is(err, domain.ErrMalformedSample) {
		return Reply{Type: ReplyError, Error: string(errors.ErrCodeInvalidInput), Message: err.Error()}
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		return Reply{Type: ReplyError, Error: string(appErr.Code), Message: appErr.Message}
	}
	return Reply{Type: ReplyError, Error: string(errors.ErrCodeInternal), Message: "internal error"}
}

// ConnectionCount reports how many uploaders are connected.
func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}

// Close drops every open uploader connection.
func (s *WebSocketServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.connections {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(s.connections, id)
	}
}
