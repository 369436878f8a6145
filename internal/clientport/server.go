package clientport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

// Server accepts inbound WebSocket connections and hands each one to
// its own Session (spec §5: "one strand per connection and one shared
// I/O pool for the WebSocket server" — the shared pool here is the
// net/http server's own goroutine-per-connection accept loop).
type Server struct {
	deps     Deps
	upgrader websocket.Upgrader
}

// NewServer builds a Server bound to the given component dependencies.
func NewServer(deps Deps) *Server {
	return &Server{
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler to mount at the client port's path.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.serveHTTP)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("clientport: upgrade failed: %+v", err)
		return
	}
	sess := newSession(conn, s.deps)
	sess.Serve(r.Context())
}

// ListenAndServe runs the client port on addr until ctx is cancelled.
func ListenAndServe(ctx context.Context, addr string, deps Deps) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: NewServer(deps).Handler(),
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		return err
	}
}
