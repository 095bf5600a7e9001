package http

import (
	"bufio"
	"errors"
	"io"
	"log/slog"

	"github.com/freekieb7/embedweb/filesystem"
)

type flusher interface {
	Flush() error
}

// ReadBodyInto copies exactly ContentLength bytes from the connection to w, one
// BodyChunkSize piece at a time. Short reads are repeated until the declared length
// is reached; a stream that ends early yields io.ErrUnexpectedEOF. When w can be
// flushed it is flushed about every FlushInterval bytes and once at the end.
func (req *Request) ReadBodyInto(w io.Writer) (int64, error) {
	size := req.ContentLength()
	chunk := req.chunkSize()

	sink, canFlush := w.(flusher)

	buf := make([]byte, chunk)
	var written, sinceFlush int64
	defer func() {
		req.bodyRead += written
	}()
	for written < size {
		n := chunk
		if remaining := size - written; remaining < int64(n) {
			n = int(remaining)
		}

		m, err := req.reader.Read(buf[:n])
		if m > 0 {
			if _, werr := w.Write(buf[:m]); werr != nil {
				return written, werr
			}
			written += int64(m)
			sinceFlush += int64(m)

			if canFlush && sinceFlush >= FlushInterval {
				if ferr := sink.Flush(); ferr != nil {
					return written, ferr
				}
				sinceFlush = 0
				req.logger().Debug("body progress", "written", written, "total", size)
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if written < size {
					return written, io.ErrUnexpectedEOF
				}
				break
			}
			return written, err
		}
	}

	if canFlush {
		if err := sink.Flush(); err != nil {
			return written, err
		}
	}

	if req.observeBody != nil {
		req.observeBody(written)
	}

	return written, nil
}

// ReadBodyIntoFile writes the body straight to path, replacing any previous content.
// A failure part way leaves a partial file behind; see ReadBodyIntoSafe.
func (req *Request) ReadBodyIntoFile(path string) error {
	file, err := req.fs().Create(path)
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(file, FlushInterval)
	if _, err := req.ReadBodyInto(bw); err != nil {
		if closeErr := file.Close(); closeErr != nil {
			req.logger().Error("closing body file error", "path", path, "error", closeErr)
		}
		return err
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		return err
	}

	return file.Close()
}

// ReadBodyIntoSafe stages the body in a temporary file next to path and renames it
// into place only after the whole body was stored. On any failure the temporary file
// is removed, path keeps its previous content and false is returned.
func (req *Request) ReadBodyIntoSafe(path string) bool {
	tmp := path + filesystem.TempSuffix
	logger := req.logger().With(slog.String("path", path))

	if err := req.ReadBodyIntoFile(tmp); err != nil {
		logger.Warn("storing body failed", "error", err)
		req.discard(tmp)
		return false
	}

	if err := req.fs().Rename(tmp, path); err != nil {
		logger.Warn("committing body failed", "error", err)
		req.discard(tmp)
		return false
	}

	return true
}

func (req *Request) discard(path string) {
	if err := req.fs().DeleteFile(path); err != nil {
		req.logger().Error("removing temporary file error", "path", path, "error", err)
	}
}
