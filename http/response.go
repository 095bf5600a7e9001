package http

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Response is the single reply to a request. Body nil means an empty body.
type Response struct {
	Body        []byte
	StatusCode  int
	ContentType string
	Headers     Headers

	// Request is bound by the dispatcher, or by Request.Reply, before writing.
	Request *Request

	filePath      string
	contentLength int64
	sized         bool
}

func NewResponse(body []byte) *Response {
	return &Response{
		Body:        body,
		StatusCode:  StatusOK,
		ContentType: DefaultContentType,
	}
}

func NewTextResponse(body string) *Response {
	return NewResponse([]byte(body))
}

// NewFileResponse streams the file at path as the body. Its size is looked up on
// first use and kept, so the declared length does not follow later file changes.
func NewFileResponse(path string) *Response {
	res := NewResponse(nil)
	res.filePath = path
	return res
}

func (res *Response) WithStatus(status int) *Response {
	res.StatusCode = status
	return res
}

func (res *Response) WithContentType(contentType string) *Response {
	res.ContentType = contentType
	return res
}

func (res *Response) SetHeader(key, value string) *Response {
	res.Headers.Set(key, value)
	return res
}

// ContentLength is the number of body bytes Write will send.
func (res *Response) ContentLength() (int64, error) {
	if res.filePath == "" {
		return int64(len(res.Body)), nil
	}

	if !res.sized {
		if res.Request == nil {
			return 0, ErrUnboundResponse
		}

		size, err := res.Request.fs().FileSize(res.filePath)
		if err != nil {
			return 0, err
		}
		res.contentLength = size
		res.sized = true
	}

	return res.contentLength, nil
}

// Write sends the header block and the body to the request's connection.
func (res *Response) Write() error {
	if res.Request == nil {
		return ErrUnboundResponse
	}

	contentLength, err := res.ContentLength()
	if err != nil {
		return err
	}

	if err := res.Request.write(res.header(contentLength)); err != nil {
		return err
	}

	if res.filePath != "" {
		return res.writeFile(contentLength)
	}

	return res.Request.write(res.Body)
}

// Close ends the exchange by closing the transport when it supports closing.
func (res *Response) Close() error {
	if res.Request == nil {
		return ErrUnboundResponse
	}

	return res.Request.close()
}

// fields resolves the status code and content type, letting caller headers named
// Status-Code or Content-Type override the struct fields.
func (res *Response) fields() (statusCode int, contentType string) {
	statusCode, contentType = res.StatusCode, res.ContentType
	if statusCode == 0 {
		statusCode = StatusOK
	}
	if contentType == "" {
		contentType = DefaultContentType
	}

	for _, header := range res.Headers {
		switch reservedKey(header.Key) {
		case "status_code":
			if code, err := strconv.Atoi(strings.TrimSpace(header.Value)); err == nil {
				statusCode = code
			}
		case "content_type":
			contentType = header.Value
		}
	}

	return statusCode, contentType
}

func (res *Response) header(contentLength int64) []byte {
	statusCode, contentType := res.fields()

	b := make([]byte, 0, 128+len(res.Headers)*32)
	b = append(b, protocolHttp11...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(statusCode), 10)
	b = append(b, statusSuffix...)
	b = appendHeader(b, "Server", ServerIdent)
	b = appendHeader(b, "Content-Type", contentType)
	b = appendHeader(b, "Content-Length", strconv.FormatInt(contentLength, 10))
	b = append(b, connectionLine...)

	for _, header := range res.Headers {
		if reservedKey(header.Key) != "" {
			continue
		}
		b = appendHeader(b, header.Key, header.Value)
	}

	return append(b, crlf...)
}

func (res *Response) writeFile(contentLength int64) error {
	file, err := res.Request.fs().Open(res.filePath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			res.Request.logger().Error("closing response file error", "path", res.filePath, "error", closeErr)
		}
	}()

	buf := make([]byte, res.Request.chunkSize())
	copied, err := io.CopyBuffer(writerFunc(res.Request.write), io.LimitReader(file, contentLength), buf)
	if err != nil {
		return err
	}
	if copied < contentLength {
		return fmt.Errorf("%w: %s sent %d of %d bytes", io.ErrUnexpectedEOF, res.filePath, copied, contentLength)
	}

	return nil
}

// reservedKey reports which computed field a caller header targets, if any.
func reservedKey(key string) string {
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "status_code":
		return "status_code"
	case "content_type":
		return "content_type"
	case "content_length":
		return "content_length"
	}
	return ""
}

func appendHeader(b []byte, key, value string) []byte {
	b = append(b, sanitizeHeaderValue(key)...)
	b = append(b, colonSpace...)
	b = append(b, sanitizeHeaderValue(value)...)
	return append(b, crlf...)
}

// sanitizeHeaderValue drops CR, LF and other control characters except HTAB.
func sanitizeHeaderValue(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		if c := v[i]; (c < 0x20 && c != '\t') || c == 0x7f {
			clean = false
			break
		}
	}
	if clean {
		return v
	}

	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if (c < 0x20 && c != '\t') || c == 0x7f {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

type writerFunc func([]byte) error

func (fn writerFunc) Write(p []byte) (int, error) {
	if err := fn(p); err != nil {
		return 0, err
	}
	return len(p), nil
}
