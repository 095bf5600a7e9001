package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/freekieb7/embedweb/config"
	"github.com/freekieb7/embedweb/filesystem"
	"github.com/freekieb7/embedweb/http"
	"github.com/freekieb7/embedweb/schedule"
	"github.com/freekieb7/embedweb/telemetry"
)

func main() {
	if err := run(context.Background()); err != nil {
		log.Fatalln(err)
	}
}

func run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	shutdown, logger, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Server.Level())
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()
	slog.SetDefault(logger)

	if err := filesystem.NewLocalFileSystem().CreateDirectory(cfg.Storage.Root); err != nil {
		return fmt.Errorf("creating storage root: %w", err)
	}
	storage := filesystem.NewRootedFileSystem(cfg.Storage.Root)

	server := newServer(cfg, storage, logger)

	scheduler := schedule.NewScheduler()
	scheduler.Logger = logger
	if cfg.Storage.SweepInterval > 0 {
		sweep := schedule.NewJob("sweep-temporary-files").
			WithInterval(cfg.Storage.SweepInterval).
			WithExecuteAt(time.Now()).
			WithTimeout(time.Minute).
			WithRetries(1).
			AddTask(func(ctx context.Context) error {
				removed, err := filesystem.SweepTemporaryFiles(ctx, storage, ".", cfg.Storage.TempMaxAge)
				if removed > 0 {
					logger.Info("removed stale temporary files", "count", removed)
				}
				return err
			})
		if err := scheduler.AddJob(sweep); err != nil {
			return err
		}
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("scheduler stopped", "error", err)
		}
	}()

	err = server.ListenAndServe(ctx, cfg.Address())

	stop()
	<-schedulerDone

	return err
}

func newServer(cfg *config.Config, storage filesystem.Filesystem, logger *slog.Logger) *http.Server {
	server := http.NewServer(cfg.Server.Name)
	server.Logger = logger
	server.FS = storage
	server.MaxLineBytes = cfg.Server.MaxLineBytes
	server.BodyChunkSize = cfg.Server.BodyChunkSize

	server.Handle("/")(http.TextHandler(func(_ *http.Request) string {
		return "Hello, world!"
	}))

	server.HandleFunc("/upload", handleUpload)
	server.HandleFunc("/download", handleDownload)

	// Writes its own reply and tells the dispatcher nothing is left to send.
	server.HandleFunc("/stream", func(_ context.Context, req *http.Request) http.Result {
		res := http.NewTextResponse("streamed by the handler\n").WithContentType("text/plain")
		if err := req.Reply(res); err != nil {
			slog.Warn("stream reply failed", "error", err)
		}
		return http.Handled()
	})

	return server
}

// handleUpload stores the body under ?name= without ever exposing a partial file.
func handleUpload(_ context.Context, req *http.Request) http.Result {
	name, ok := fileName(req)
	if !ok {
		return plain(http.StatusBadRequest, "expected a single name parameter")
	}

	if !req.ReadBodyIntoSafe(name) {
		return plain(http.StatusInsufficientStorage, "storing the upload failed")
	}

	return plain(http.StatusCreated, "stored "+name)
}

func handleDownload(_ context.Context, req *http.Request) http.Result {
	name, ok := fileName(req)
	if !ok {
		return plain(http.StatusBadRequest, "expected a single name parameter")
	}

	if exists, err := req.FS.FileExists(name); err != nil || !exists {
		return plain(http.StatusNotFound, "Not found")
	}

	return http.Respond(http.NewFileResponse(name).WithContentType("application/octet-stream"))
}

// fileName returns the ?name= parameter reduced to a plain file name.
func fileName(req *http.Request) (string, bool) {
	value, ok := req.Get("name")
	if !ok || value.Flag {
		return "", false
	}

	name := filepath.Base(value.Text)
	if name == "." || name == "/" || name == ".." {
		return "", false
	}
	return name, true
}

func plain(status int, body string) http.Result {
	return http.Respond(http.NewTextResponse(body).WithStatus(status).WithContentType("text/plain"))
}
