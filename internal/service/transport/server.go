// Package transport carries commands between cluster members over
// websockets.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"cosigner/internal/model"
	"cosigner/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	RPCPath     = "/rpc"
	ServersPath = "/servers"

	queueSize = 64

	// MaxMessageSize caps one inbound websocket frame.
	MaxMessageSize = 1 << 20
)

type (
	Handler interface {
		Handle(ctx context.Context, raw []byte) []byte
	}

	RosterSource interface {
		Servers() []model.Server
	}

	request struct {
		payload  []byte
		deadline time.Time
		reply    chan []byte
	}

	// HttpServer accepts requests on any number of connections but hands
	// them to the handler one at a time from Process. A request still queued
	// when timeout has passed since it arrived is dropped unhandled: its
	// caller has already given up.
	HttpServer struct {
		handler  Handler
		roster   RosterSource
		poll     time.Duration
		timeout  time.Duration
		queue    chan *request
		upgrader websocket.Upgrader

		closeOnce sync.Once
		closed    chan struct{}
	}
)

func NewHttpServer(handler Handler, roster RosterSource, poll, timeout time.Duration) *HttpServer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HttpServer{
		handler: handler,
		roster:  roster,
		poll:    poll,
		timeout: timeout,
		queue:   make(chan *request, queueSize),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		closed: make(chan struct{}),
	}
}

func (s *HttpServer) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc(RPCPath, s.HandleRPC()).Methods(http.MethodGet)
	r.HandleFunc(ServersPath, s.GetServers()).Methods(http.MethodGet)
	return r
}

// Serve listens on addr until ctx is cancelled.
func (s *HttpServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown failed", zap.Error(err))
		}
	}()

	log.Info("rpc listener started", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Process handles at most one queued request per poll tick until ctx is
// cancelled.
func (s *HttpServer) Process(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case <-ticker.C:
		}

		if req := s.next(); req != nil {
			req.reply <- s.handler.Handle(ctx, req.payload)
		}
	}
}

// next returns the oldest queued request whose caller is still waiting,
// discarding expired ones, or nil when the queue is empty.
func (s *HttpServer) next() *request {
	for {
		select {
		case req := <-s.queue:
			if time.Now().After(req.deadline) {
				log.Debug("dropped expired request", zap.Int("bytes", len(req.payload)))
				continue
			}
			return req
		default:
			return nil
		}
	}
}

// Close releases connections waiting on a reply.
func (s *HttpServer) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *HttpServer) HandleRPC() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()
		conn.SetReadLimit(MaxMessageSize)

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Debug("rpc socket closed", zap.String("remote", r.RemoteAddr), zap.Error(err))
				return
			}

			reply, ok := s.submit(data)
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				log.Debug("write reply failed", zap.Error(err))
				return
			}
		}
	}
}

// submit queues payload for Process and waits for the reply until the
// request deadline.
func (s *HttpServer) submit(payload []byte) ([]byte, bool) {
	req := &request{
		payload:  payload,
		deadline: time.Now().Add(s.timeout),
		reply:    make(chan []byte, 1),
	}
	expired := time.NewTimer(s.timeout)
	defer expired.Stop()

	select {
	case s.queue <- req:
	case <-expired.C:
		return nil, false
	case <-s.closed:
		return nil, false
	}
	select {
	case reply := <-req.reply:
		return reply, true
	case <-expired.C:
		return nil, false
	case <-s.closed:
		return nil, false
	}
}

func (s *HttpServer) GetServers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := json.Marshal(s.roster.Servers())
		if err != nil {
			log.Error("marshal roster failed", zap.Error(err))
			http.Error(w, "marshal roster failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	}
}
