package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/freekieb7/embedweb/filesystem"
)

// Request is one inbound request bound to a connection's input and output streams.
// Closing the connection is left to the Response or the Server.
type Request struct {
	Method   string
	Path     string
	Protocol string
	Headers  map[string]string
	Query    Values

	// MaxLineBytes caps a single request or header line. Zero means unlimited.
	MaxLineBytes int
	// BodyChunkSize is the piece size used when copying the body to a sink.
	BodyChunkSize int

	FS     filesystem.Filesystem
	Logger *slog.Logger

	ctx         context.Context
	reader      *bufio.Reader
	writer      io.Writer
	observeBody func(n int64)

	// bodyRead counts body bytes already consumed by ReadBodyInto.
	bodyRead int64
	// replied is set once any reply byte was handed to the writer.
	replied bool
}

type closeWriter interface {
	CloseWrite() error
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

func NewRequest(r io.Reader, w io.Writer) *Request {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, DefaultReadBufferSize)
	}

	return &Request{
		Headers:       map[string]string{},
		Query:         Values{},
		MaxLineBytes:  DefaultMaxLineBytes,
		BodyChunkSize: DefaultBodyChunkSize,
		reader:        br,
		writer:        w,
	}
}

// Context returns the request's context, Background when none was set.
func (req *Request) Context() context.Context {
	if req.ctx == nil {
		return context.Background()
	}
	return req.ctx
}

// ReadHeaders consumes the request line and every header line up to the blank line.
// Body bytes are left unread.
func (req *Request) ReadHeaders() error {
	line, err := req.readLine()
	if err != nil {
		return err
	}

	parts := strings.Fields(line)
	if len(parts) != 3 {
		return fmt.Errorf("%w: request line %q", ErrMalformedRequest, strings.TrimSpace(line))
	}
	req.Method, req.Protocol = parts[0], parts[2]

	path, query, hasQuery := strings.Cut(parts[1], "?")
	req.Path = NormalizePath(path)
	req.Query = Values{}
	if hasQuery {
		req.Query = ParseQuery(query)
	}

	headers := map[string]string{}
	for {
		line, err := req.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.ErrUnexpectedEOF
			}
			return err
		}

		if line == "\r\n" || line == "\n" {
			break
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("%w: header line %q", ErrMalformedRequest, strings.TrimSpace(line))
		}
		headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	req.Headers = headers

	return nil
}

// readLine returns the next line including its line terminator.
func (req *Request) readLine() (string, error) {
	var line []byte
	for {
		fragment, err := req.reader.ReadSlice('\n')
		line = append(line, fragment...)
		if req.MaxLineBytes > 0 && len(line) > req.MaxLineBytes {
			return "", ErrLineTooLong
		}

		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	return string(line), nil
}

// NormalizePath strips leading and trailing slashes and re-prefixes a single one,
// so "a/b", "//a/b/" and "/a/b" all become "/a/b" and "" becomes "/".
func NormalizePath(path string) string {
	return "/" + strings.Trim(path, "/")
}

// Header looks name up case-insensitively, preferring an exact match.
func (req *Request) Header(name string) string {
	value, _ := lookupHeader(req.Headers, name)
	return value
}

// ContentLength is the declared body size, 0 when absent, negative or not a number.
func (req *Request) ContentLength() int64 {
	value, ok := lookupHeader(req.Headers, "Content-Length")
	if !ok {
		return 0
	}

	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0
	}

	return n
}

// Get returns the query parameter name when exactly one value was sent for it.
func (req *Request) Get(name string) (Value, bool) {
	return req.Query.Get(name)
}

// Reply binds res to this request and writes it.
func (req *Request) Reply(res *Response) error {
	res.Request = req
	return res.Write()
}

func (req *Request) write(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	req.replied = true
	_, err := req.writer.Write(data)
	return err
}

// close discards what is left of the declared body and then closes the transport.
func (req *Request) close() error {
	if remaining := req.ContentLength() - req.bodyRead; remaining > 0 {
		req.drain(remaining)
	}

	if closer, ok := req.writer.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

// drain reads and drops up to n unread input bytes, capped at MaxDrainBytes.
// A socket closed with unread input is reset, and the peer then loses the reply
// it has not read yet. A negative n means the length is unknown: input is read
// until EOF, which only ends once the write side is shut, so it needs a transport
// that can half-close.
func (req *Request) drain(n int64) {
	if n == 0 {
		return
	}

	cw, halfClose := req.writer.(closeWriter)
	if n < 0 {
		if !halfClose {
			return
		}
		n = MaxDrainBytes
	}
	n = min(n, MaxDrainBytes)

	if halfClose {
		if err := cw.CloseWrite(); err != nil {
			return
		}
	}
	if conn, ok := req.writer.(readDeadliner); ok {
		_ = conn.SetReadDeadline(time.Now().Add(DrainTimeout))
	}

	discarded, err := io.CopyN(io.Discard, req.reader, n)
	if err != nil && !errors.Is(err, io.EOF) {
		req.logger().Debug("draining request input stopped", "discarded", discarded, "error", err)
	}
}

func (req *Request) fs() filesystem.Filesystem {
	if req.FS == nil {
		req.FS = filesystem.NewLocalFileSystem()
	}
	return req.FS
}

func (req *Request) logger() *slog.Logger {
	if req.Logger == nil {
		return slog.Default()
	}
	return req.Logger
}

func (req *Request) chunkSize() int {
	if req.BodyChunkSize <= 0 {
		return DefaultBodyChunkSize
	}
	return req.BodyChunkSize
}
