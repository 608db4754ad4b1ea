package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
)

// Handler answers one control-socket verb. It returns the value to encode
// as Response.Data, or an error to report back as Response.Error.
type Handler func(verb string, args []string) (any, error)

// Server accepts control-socket connections and dispatches each request
// line to a Handler, one connection per client and one goroutine per
// connection — there is no shared state here beyond the Handler closure,
// so no locking is needed in this package itself.
type Server struct {
	ln      *net.UnixListener
	handler Handler
	logger  *slog.Logger
}

// Listen binds a unix-domain socket at socketPath, removing any stale
// socket file left behind by an unclean prior shutdown.
func Listen(socketPath string, handler Handler, logger *slog.Logger) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale control socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen on control socket %s: %w", socketPath, err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Server{ln: ln, handler: handler, logger: logger.With("component", "control.Server")}, nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed, handling each on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}
		go s.serveConn(conn)
	}
}

// Close releases the listener and removes the socket file.
func (s *Server) Close() error {
	if err := s.ln.Close(); err != nil {
		return fmt.Errorf("close control listener: %w", err)
	}
	return nil
}

// serveConn reads one JSON request per line until the client disconnects,
// replying to each with exactly one Response line.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
			continue
		}

		resp := s.dispatch(req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Debug("write control response failed", "error", err)
			return
		}
	}
}

// dispatch runs the handler for one request, converting a returned error
// or marshal failure into a Response with OK=false.
func (s *Server) dispatch(req Request) Response {
	data, err := s.handler(req.Verb, req.Args)
	if err != nil {
		return Response{OK: false, Error: err.Error()}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Response{OK: false, Error: fmt.Sprintf("marshal response: %v", err)}
	}

	return Response{OK: true, Data: raw}
}
