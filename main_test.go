package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/freekieb7/embedweb/config"
	"github.com/freekieb7/embedweb/filesystem"
	"github.com/freekieb7/embedweb/http"
	"github.com/freekieb7/embedweb/telemetry"
	"github.com/freekieb7/embedweb/test"
)

func roundTrip(t *testing.T, server *http.Server, raw string) string {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	go server.ServeConn(context.Background(), serverConn)
	go func() {
		_, _ = clientConn.Write([]byte(raw))
	}()

	data, err := io.ReadAll(clientConn)
	test.AssertNoError(t, err)
	return string(data)
}

func newTestServer(t *testing.T) (*http.Server, filesystem.Filesystem) {
	t.Helper()

	storage := filesystem.NewRootedFileSystem(t.TempDir())
	logger := telemetry.NewLogger(io.Discard, slog.LevelInfo)
	return newServer(config.Default(), storage, logger), storage
}

func TestHelloWorld(t *testing.T) {
	server, _ := newTestServer(t)

	got := roundTrip(t, server, "GET / HTTP/1.1\r\nHost: device\r\n\r\n")
	test.AssertTrue(t, strings.HasPrefix(got, "HTTP/1.1 200 NA\r\n"), "status")
	test.AssertTrue(t, strings.HasSuffix(got, "\r\n\r\nHello, world!"), "body")
}

func TestUploadThenDownload(t *testing.T) {
	server, storage := newTestServer(t)

	got := roundTrip(t, server, "POST /upload?name=reading.csv HTTP/1.1\r\nContent-Length: 11\r\n\r\nt=21.5,h=40")
	test.AssertTrue(t, strings.HasPrefix(got, "HTTP/1.1 201 NA\r\n"), "upload stored")

	data, err := storage.ReadFile("reading.csv")
	test.AssertNoError(t, err)
	test.AssertEqual(t, "t=21.5,h=40", string(data))

	got = roundTrip(t, server, "GET /download?name=reading.csv HTTP/1.1\r\n\r\n")
	test.AssertTrue(t, strings.Contains(got, "Content-Type: application/octet-stream\r\n"), "binary download")
	test.AssertTrue(t, strings.Contains(got, "Content-Length: 11\r\n"), "file size")
	test.AssertTrue(t, strings.HasSuffix(got, "\r\n\r\nt=21.5,h=40"), "file body")
}

func TestUploadRejected(t *testing.T) {
	server, storage := newTestServer(t)
	test.AssertNoError(t, storage.WriteFile("config.txt", []byte("keep")))

	got := roundTrip(t, server, "POST /upload HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi")
	test.AssertTrue(t, strings.HasPrefix(got, "HTTP/1.1 400 NA\r\n"), "name required")

	got = roundTrip(t, server, "POST /upload?name=.. HTTP/1.1\r\nContent-Length: 2\r\n\r\nhi")
	test.AssertTrue(t, strings.HasPrefix(got, "HTTP/1.1 400 NA\r\n"), "unusable name")

	data, err := storage.ReadFile("config.txt")
	test.AssertNoError(t, err)
	test.AssertEqual(t, "keep", string(data))
}

func TestDownloadMissing(t *testing.T) {
	server, _ := newTestServer(t)

	got := roundTrip(t, server, "GET /download?name=nothing.bin HTTP/1.1\r\n\r\n")
	test.AssertTrue(t, strings.HasPrefix(got, "HTTP/1.1 404 NA\r\n"), "missing file")
}

func TestStream(t *testing.T) {
	server, _ := newTestServer(t)

	got := roundTrip(t, server, "GET /stream HTTP/1.1\r\n\r\n")
	test.AssertEqual(t, 1, strings.Count(got, "HTTP/1.1 "))
	test.AssertTrue(t, strings.HasSuffix(got, "streamed by the handler\n"), "handler reply")
}

func TestFileName(t *testing.T) {
	tests := []struct {
		query string
		name  string
		ok    bool
	}{
		{"name=a.txt", "a.txt", true},
		{"name=..%2F..%2Fetc%2Fpasswd", "passwd", true},
		{"name", "", false},
		{"name=", "", false},
		{"name=a&name=b", "", false},
		{"name=..", "", false},
	}

	for _, tt := range tests {
		req := http.NewRequest(strings.NewReader("GET /x?"+tt.query+" HTTP/1.1\r\n\r\n"), io.Discard)
		test.AssertNoError(t, req.ReadHeaders())

		name, ok := fileName(req)
		test.AssertEqual(t, tt.ok, ok)
		test.AssertEqual(t, tt.name, name)
	}
}
