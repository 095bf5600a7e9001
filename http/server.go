package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/freekieb7/embedweb/filesystem"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Server owns a path registry and serves one request per accepted connection.
// Handlers must be registered before serving starts.
type Server struct {
	Name     string
	NotFound Handler
	Logger   *slog.Logger
	FS       filesystem.Filesystem

	MaxLineBytes  int
	BodyChunkSize int

	handlers    map[string]Handler
	instruments instruments
}

func NewServer(name string) *Server {
	return &Server{
		Name:          name,
		NotFound:      NotFoundHandler,
		FS:            filesystem.NewLocalFileSystem(),
		MaxLineBytes:  DefaultMaxLineBytes,
		BodyChunkSize: DefaultBodyChunkSize,

		handlers:    make(map[string]Handler),
		instruments: newInstruments(slog.Default()),
	}
}

// Handle returns a function that registers its argument for path and hands it back
// unchanged, so one handler can be bound to several paths.
func (s *Server) Handle(path string) func(Handler) Handler {
	return func(handler Handler) Handler {
		s.AddHandler(path, handler)
		return handler
	}
}

// AddHandler binds handler to path. A later registration for the same path wins.
func (s *Server) AddHandler(path string, handler Handler) {
	s.handlers[NormalizePath(path)] = handler
}

func (s *Server) HandleFunc(path string, fn func(ctx context.Context, req *Request) Result) {
	s.AddHandler(path, HandlerFunc(fn))
}

// Handler returns the handler registered for path, or the not-found handler.
func (s *Server) Handler(path string) Handler {
	if handler, ok := s.handlers[NormalizePath(path)]; ok {
		return handler
	}

	if s.NotFound == nil {
		return NotFoundHandler
	}
	return s.NotFound
}

// ServeFunc listens and serves until its context is cancelled.
type ServeFunc func(ctx context.Context) error

// MakeServer returns the listening task for ip:port without starting it.
func (s *Server) MakeServer(ip string, port int) ServeFunc {
	addr := net.JoinHostPort(ip, strconv.Itoa(port))
	return func(ctx context.Context) error {
		return s.ListenAndServe(ctx, addr)
	}
}

// StartServer binds ip:port and serves in the background until ctx is cancelled.
// It returns the bound address, which tells the chosen port when port is 0.
func (s *Server) StartServer(ctx context.Context, ip string, port int) (net.Addr, error) {
	listener, err := s.listen(ctx, net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	go func() {
		if err := s.Serve(ctx, listener); err != nil {
			s.logger().Error("server stopped", "error", err)
		}
	}()

	return listener.Addr(), nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := s.listen(ctx, addr)
	if err != nil {
		return err
	}

	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is cancelled, then waits for in-flight
// connections and returns nil. Closing the listener otherwise yields ErrServerClosed.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	s.logger().Info("listening", "server", s.Name, "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return ErrServerClosed
			}

			s.logger().Error("accept connection error", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}

// ServeConn runs one request/response exchange on conn and closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	// Shutdown unblocks a peer that is still sending its headers.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	start := time.Now()
	logger := s.logger().With(
		slog.String("conn", uuid.NewString()),
		slog.String("remote", remoteAddr(conn)),
	)
	req := s.newRequest(ctx, conn, logger)

	if err := req.ReadHeaders(); err != nil {
		s.reject(req, err)
		return
	}

	route := "unmatched"
	if _, ok := s.handlers[req.Path]; ok {
		route = req.Path
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(req.Headers))
	ctx, span := s.instruments.tracer.Start(ctx, req.Method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("network.protocol.version", req.Protocol),
		))
	defer span.End()
	req.ctx = ctx

	logger.Debug("dispatching", "method", req.Method, "path", req.Path, "route", route)

	var status int
	if res := s.invoke(ctx, s.Handler(req.Path), req).reply(); res != nil {
		res.Request = req
		status, _ = res.fields()
		span.SetAttributes(attribute.Int("http.response.status_code", status))

		if err := res.Write(); err != nil {
			logger.Warn("writing response failed", "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "writing response failed")
		}
	} else {
		logger.Debug("handler replied directly", "path", req.Path)
	}

	if err := req.close(); err != nil {
		logger.Debug("closing connection failed", "error", err)
	}

	s.instruments.record(ctx, req.Method, route, status, time.Since(start))
}

// invoke runs handler and turns a panic into a 500 reply.
func (s *Server) invoke(ctx context.Context, handler Handler, req *Request) (result Result) {
	defer func() {
		if recovered := recover(); recovered != nil {
			if req.replied {
				// Part of a reply is already on the wire; a second one would corrupt it.
				req.logger().Error("handler panic after reply", "path", req.Path, "panic", recovered)
				result = Handled()
				return
			}

			req.logger().Error("handler panic", "path", req.Path, "panic", recovered)
			result = Respond(NewTextResponse("something went wrong").
				WithStatus(StatusInternalServerError).
				WithContentType("text/plain"))
		}
	}()

	return handler.Serve(ctx, req)
}

// reject answers a malformed request with 400, or 431 when a line is too long, and
// drops the connection on transport errors.
func (s *Server) reject(req *Request, err error) {
	var status int
	switch {
	case errors.Is(err, ErrLineTooLong):
		status = StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, ErrMalformedRequest):
		status = StatusBadRequest
	default:
		req.logger().Debug("connection dropped before dispatch", "error", err)
		return
	}

	req.logger().Warn("bad request", "status", status, "error", err)

	res := NewTextResponse(StatusText(status)).
		WithStatus(status).
		WithContentType("text/plain")
	if err := req.Reply(res); err != nil {
		req.logger().Debug("writing bad request reply failed", "error", err)
		return
	}

	// The rest of the request is unparsed, so its length is unknown.
	req.drain(-1)
	_ = res.Close()
}

func (s *Server) newRequest(ctx context.Context, conn net.Conn, logger *slog.Logger) *Request {
	req := NewRequest(conn, conn)
	req.ctx = ctx
	req.MaxLineBytes = s.MaxLineBytes
	req.BodyChunkSize = s.BodyChunkSize
	req.FS = s.FS
	req.Logger = logger
	req.observeBody = func(n int64) {
		s.instruments.bodyBytes.Add(req.Context(), n)
	}
	return req
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (s *Server) listen(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}
