package http

import (
	"strings"
	"time"
)

const (
	// ServerIdent is sent in the Server header of every response.
	ServerIdent = "embedweb"

	DefaultReadBufferSize = 4096 // 4kB

	DefaultBodyChunkSize = 128
	DefaultMaxLineBytes  = 8 * 1024
	// FlushInterval is roughly how many body bytes are written to a sink between flushes.
	FlushInterval = 1024
	// MaxDrainBytes caps how much unread input is discarded before a connection closes.
	MaxDrainBytes = 1 << 20 // 1MB
	DrainTimeout  = time.Second

	DefaultContentType = "text/html"
)

var (
	protocolHttp11 = "HTTP/1.1"
	statusSuffix   = " NA\r\n"
	crlf           = "\r\n"
	colonSpace     = ": "
	connectionLine = "Connection: closed\r\n"
)

// Header is a single response header field.
type Header struct {
	Key   string
	Value string
}

// Headers is an ordered, single-valued header list. Keys are compared exactly.
type Headers []Header

// Set replaces the value of key, or appends it when absent.
func (headers *Headers) Set(key, value string) {
	for i := range *headers {
		if (*headers)[i].Key == key {
			(*headers)[i].Value = value
			return
		}
	}

	*headers = append(*headers, Header{Key: key, Value: value})
}

// lookupHeader finds name in a request header map, preferring an exact match.
func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}

	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}

	return "", false
}
