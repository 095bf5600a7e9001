package http

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/freekieb7/embedweb/filesystem"
	"github.com/freekieb7/embedweb/test"
)

var errDiskFull = errors.New("disk full")

func bodyRequest(t *testing.T, r io.Reader) *Request {
	t.Helper()
	req := NewRequest(r, io.Discard)
	test.AssertNoError(t, req.ReadHeaders())
	return req
}

func postRaw(body string, contentLength int) string {
	return "POST /upload HTTP/1.1\r\nContent-Length: " + strconv.Itoa(contentLength) + "\r\n\r\n" + body
}

func exists(t *testing.T, fs filesystem.Filesystem, path string) bool {
	t.Helper()
	ok, err := fs.FileExists(path)
	test.AssertNoError(t, err)
	return ok
}

type flushCounter struct {
	bytes.Buffer
	flushes int
}

func (f *flushCounter) Flush() error {
	f.flushes++
	return nil
}

// faultyFS wraps a real filesystem and injects write or rename failures.
type faultyFS struct {
	filesystem.Filesystem
	limitWrites bool
	writeBudget int
	failRename  bool
}

func (fs *faultyFS) Create(path string) (filesystem.WritableFile, error) {
	file, err := fs.Filesystem.Create(path)
	if err != nil || !fs.limitWrites {
		return file, err
	}
	return &failingFile{WritableFile: file, budget: fs.writeBudget}, nil
}

func (fs *faultyFS) Rename(from, to string) error {
	if fs.failRename {
		return errors.New("rename refused")
	}
	return fs.Filesystem.Rename(from, to)
}

type failingFile struct {
	filesystem.WritableFile
	budget int
}

func (f *failingFile) Write(p []byte) (int, error) {
	if len(p) > f.budget {
		n, _ := f.WritableFile.Write(p[:f.budget])
		f.budget = 0
		return n, errDiskFull
	}
	f.budget -= len(p)
	return f.WritableFile.Write(p)
}

func TestReadBodyIntoExactLength(t *testing.T) {
	raw := postRaw("hello world EXTRA", 11)
	req := bodyRequest(t, iotest.OneByteReader(strings.NewReader(raw)))

	var dst bytes.Buffer
	n, err := req.ReadBodyInto(&dst)
	test.AssertNoError(t, err)
	test.AssertEqual(t, int64(11), n)
	test.AssertEqual(t, "hello world", dst.String())
}

func TestReadBodyIntoChunks(t *testing.T) {
	body := strings.Repeat("0123456789", 100)
	req := bodyRequest(t, strings.NewReader(postRaw(body, len(body))))
	req.BodyChunkSize = 7

	var dst bytes.Buffer
	n, err := req.ReadBodyInto(&dst)
	test.AssertNoError(t, err)
	test.AssertEqual(t, int64(len(body)), n)
	test.AssertEqual(t, body, dst.String())
}

func TestReadBodyIntoNoBody(t *testing.T) {
	req := bodyRequest(t, strings.NewReader("POST / HTTP/1.1\r\n\r\nignored"))

	var dst bytes.Buffer
	n, err := req.ReadBodyInto(&dst)
	test.AssertNoError(t, err)
	test.AssertEqual(t, int64(0), n)
	test.AssertEqual(t, 0, dst.Len())
}

func TestReadBodyIntoShortStream(t *testing.T) {
	req := bodyRequest(t, strings.NewReader(postRaw("abc", 10)))

	var dst bytes.Buffer
	n, err := req.ReadBodyInto(&dst)
	test.AssertErrorIs(t, err, io.ErrUnexpectedEOF)
	test.AssertEqual(t, int64(3), n)
	test.AssertEqual(t, "abc", dst.String())
}

func TestReadBodyIntoFlushes(t *testing.T) {
	body := strings.Repeat("x", 2048)

	// A flush after every 1024 bytes plus the final one, however the bytes arrive.
	testCases := []struct {
		name   string
		reader func(io.Reader) io.Reader
	}{
		{"Full Chunks", func(r io.Reader) io.Reader { return r }},
		{"One Byte Reads", iotest.OneByteReader},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := bodyRequest(t, tc.reader(strings.NewReader(postRaw(body, len(body)))))

			sink := &flushCounter{}
			_, err := req.ReadBodyInto(sink)
			test.AssertNoError(t, err)
			test.AssertEqual(t, 3, sink.flushes)
			test.AssertEqual(t, body, sink.String())
		})
	}
}

func TestReadBodyIntoObservesBytes(t *testing.T) {
	req := bodyRequest(t, strings.NewReader(postRaw("12345", 5)))

	var observed int64
	req.observeBody = func(n int64) { observed = n }

	_, err := req.ReadBodyInto(io.Discard)
	test.AssertNoError(t, err)
	test.AssertEqual(t, int64(5), observed)
}

func TestReadBodyIntoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uploads", "body.bin")
	body := strings.Repeat("payload-", 300)

	req := bodyRequest(t, strings.NewReader(postRaw(body, len(body))))
	test.AssertNoError(t, req.ReadBodyIntoFile(path))

	data, err := filesystem.NewLocalFileSystem().ReadFile(path)
	test.AssertNoError(t, err)
	test.AssertEqual(t, body, string(data))
}

func TestReadBodyIntoSafe(t *testing.T) {
	fs := filesystem.NewRootedFileSystem(t.TempDir())
	test.AssertNoError(t, fs.WriteFile("data.txt", []byte("old content")))

	req := bodyRequest(t, strings.NewReader(postRaw("new content", 11)))
	req.FS = fs

	test.AssertTrue(t, req.ReadBodyIntoSafe("data.txt"), "safe write should succeed")

	data, err := fs.ReadFile("data.txt")
	test.AssertNoError(t, err)
	test.AssertEqual(t, "new content", string(data))
	test.AssertTrue(t, !exists(t, fs, "data.txt.tmp"), "temporary file should be gone")
}

func TestReadBodyIntoSafeFailures(t *testing.T) {
	body := strings.Repeat("b", 512)

	tests := []struct {
		name string
		raw  string
		fs   func(filesystem.Filesystem) filesystem.Filesystem
	}{
		{
			name: "Short Body",
			raw:  postRaw("short", 100),
			fs:   func(fs filesystem.Filesystem) filesystem.Filesystem { return fs },
		},
		{
			name: "Write Failure",
			raw:  postRaw(body, len(body)),
			fs: func(fs filesystem.Filesystem) filesystem.Filesystem {
				return &faultyFS{Filesystem: fs, limitWrites: true, writeBudget: 64}
			},
		},
		{
			name: "Rename Failure",
			raw:  postRaw(body, len(body)),
			fs: func(fs filesystem.Filesystem) filesystem.Filesystem {
				return &faultyFS{Filesystem: fs, failRename: true}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := filesystem.NewRootedFileSystem(t.TempDir())
			test.AssertNoError(t, base.WriteFile("data.txt", []byte("old content")))

			req := bodyRequest(t, strings.NewReader(tt.raw))
			req.FS = tt.fs(base)

			test.AssertTrue(t, !req.ReadBodyIntoSafe("data.txt"), "safe write should fail")

			data, err := base.ReadFile("data.txt")
			test.AssertNoError(t, err)
			test.AssertEqual(t, "old content", string(data))
			test.AssertTrue(t, !exists(t, base, "data.txt.tmp"), "temporary file should be removed")
		})
	}
}
