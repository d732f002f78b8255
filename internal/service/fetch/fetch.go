package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jgivc/rinexfetch/internal/common"
	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/spf13/afero"
)

const (
	PartSuffix = ".part"

	defaultChunkSize = 8192
	dirPerm          = 0755
	filePerm         = 0644
)

type Getter interface {
	Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error)
}

type Config struct {
	Timeout     time.Duration
	ChunkSize   int
	KeepPartial bool // Leave <file>.part behind when a download fails
}

type job struct {
	seq int
	ref entity.RemoteFileRef
}

type Fetcher struct {
	client Getter
	fs     afero.Fs
	cfg    Config
	bytes  atomic.Int64
	log    *slog.Logger
}

func NewFetcher(client Getter, fs afero.Fs, cfg Config, log *slog.Logger) *Fetcher {
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = defaultChunkSize
	}

	return &Fetcher{
		client: client,
		fs:     fs,
		cfg:    cfg,
		log:    log.With(slog.String("item", "Fetcher")),
	}
}

// BytesWritten is the number of bytes streamed to disk by this fetcher so far,
// including bytes of downloads that later failed.
func (f *Fetcher) BytesWritten() int64 {
	return f.bytes.Load()
}

// FetchAll downloads refs under root with at most concurrency requests in flight.
// It returns exactly one outcome per ref in completion order; Seq links an outcome
// to its position in refs. onProgress, if set, is called after every finished
// download from a single goroutine. Once ctx is done no new download starts and
// the rest of refs are reported as cancelled.
func (f *Fetcher) FetchAll(ctx context.Context, refs []entity.RemoteFileRef, root string, concurrency int, onProgress func(completed, total int)) []entity.FetchOutcome {
	total := len(refs)
	if total == 0 {
		return []entity.FetchOutcome{}
	}

	workers := max(1, min(concurrency, total))

	log := f.log.With(slog.String("root", root))
	log.Info("Start downloading", slog.Int("files", total), slog.Int("workers", workers))

	in := make(chan job, workers)
	out := make(chan entity.FetchOutcome, total)

	var wg sync.WaitGroup

	wg.Add(1)
	go f.produce(ctx, refs, in, out, &wg)

	wg.Add(workers)
	for n := 0; n < workers; n++ {
		go f.worker(ctx, n, root, in, out, &wg)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	outcomes := make([]entity.FetchOutcome, 0, total)
	for outcome := range out {
		outcomes = append(outcomes, outcome)
		if onProgress != nil {
			onProgress(len(outcomes), total)
		}
	}

	log.Info("Done", slog.Int("files", len(outcomes)))

	return outcomes
}

func (f *Fetcher) produce(ctx context.Context, refs []entity.RemoteFileRef, in chan<- job, out chan<- entity.FetchOutcome, wg *sync.WaitGroup) {
	defer wg.Done()
	defer close(in)

	for seq, ref := range refs {
		select {
		case <-ctx.Done():
			f.log.Warn("Interrupted, remaining files are not submitted", slog.Int("remaining", len(refs)-seq))

			for i := seq; i < len(refs); i++ {
				out <- cancelled(i, refs[i], ctx.Err())
			}

			return
		case in <- job{seq: seq, ref: ref}:
		}
	}
}

func (f *Fetcher) worker(ctx context.Context, n int, root string, in <-chan job, out chan<- entity.FetchOutcome, wg *sync.WaitGroup) {
	defer wg.Done()

	log := f.log.With(slog.Int("worker_id", n))
	log.Debug("Started")

	for j := range in {
		if err := ctx.Err(); err != nil {
			out <- cancelled(j.seq, j.ref, err)

			continue
		}

		outcome := f.fetchOne(ctx, j, root)
		if outcome.Succeeded() {
			log.Debug("Downloaded", slog.String("url", j.ref.URL()), slog.Int64("bytes", outcome.BytesWritten))
		} else {
			log.Error("Cannot download file", slog.String("url", j.ref.URL()), slog.String("kind", outcome.Kind.String()), slog.Any("error", outcome.Err))
		}

		out <- outcome
	}

	log.Debug("Done")
}

func (f *Fetcher) fetchOne(ctx context.Context, j job, root string) entity.FetchOutcome {
	outcome := entity.FetchOutcome{
		Seq:  j.seq,
		Ref:  j.ref,
		Path: j.ref.LocalPath(root),
	}

	fail := func(kind entity.FailureKind, err error) entity.FetchOutcome {
		if ctx.Err() != nil && kind == entity.FailureDownload {
			kind = entity.FailureCancelled
		}
		outcome.Status = entity.StatusFailed
		outcome.Kind = kind
		outcome.Err = err

		return outcome
	}

	// MkdirAll treats an existing directory as success, so racing workers are fine.
	dir := filepath.Dir(outcome.Path)
	if err := f.fs.MkdirAll(dir, dirPerm); err != nil {
		return fail(entity.FailureFilesystem, fmt.Errorf("%w: cannot create directory %s: %w", common.ErrFilesystem, dir, err))
	}

	resp, err := f.client.Get(ctx, j.ref.URL(), f.cfg.Timeout)
	if err != nil {
		return fail(entity.FailureDownload, fmt.Errorf("%w: %w", common.ErrDownloadFailed, err))
	}
	defer resp.Body.Close()

	partPath := outcome.Path + PartSuffix

	n, err := f.writePart(partPath, resp.Body)
	outcome.BytesWritten = n
	if err != nil {
		f.dropPart(partPath)

		var fsErr *writeError
		if errors.As(err, &fsErr) {
			return fail(entity.FailureFilesystem, fmt.Errorf("%w: %w", common.ErrFilesystem, err))
		}

		return fail(entity.FailureDownload, fmt.Errorf("%w: cannot read body of %s: %w", common.ErrDownloadFailed, j.ref.URL(), err))
	}

	if err := f.fs.Rename(partPath, outcome.Path); err != nil {
		f.dropPart(partPath)

		return fail(entity.FailureFilesystem, fmt.Errorf("%w: cannot move %s into place: %w", common.ErrFilesystem, partPath, err))
	}

	outcome.Status = entity.StatusSuccess

	return outcome
}

// writeError marks failures on the local side of the copy.
type writeError struct {
	err error
}

func (e *writeError) Error() string { return e.err.Error() }
func (e *writeError) Unwrap() error { return e.err }

// writePart streams body into path chunk by chunk.
func (f *Fetcher) writePart(path string, body io.Reader) (int64, error) {
	file, err := f.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
	if err != nil {
		return 0, &writeError{fmt.Errorf("cannot create file %s: %w", path, err)}
	}

	var (
		written int64
		buf     = make([]byte, f.cfg.ChunkSize)
	)

	for {
		nr, rerr := body.Read(buf)
		if nr > 0 {
			nw, werr := file.Write(buf[:nr])
			written += int64(nw)
			f.bytes.Add(int64(nw))

			if werr == nil && nw != nr {
				werr = io.ErrShortWrite
			}

			if werr != nil {
				file.Close()

				return written, &writeError{fmt.Errorf("cannot write file %s: %w", path, werr)}
			}
		}

		if rerr == io.EOF {
			break
		}

		if rerr != nil {
			file.Close()

			return written, rerr
		}
	}

	if err := file.Close(); err != nil {
		return written, &writeError{fmt.Errorf("cannot close file %s: %w", path, err)}
	}

	return written, nil
}

func (f *Fetcher) dropPart(path string) {
	if f.cfg.KeepPartial {
		return
	}

	if err := f.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.log.Warn("Cannot remove partial file", slog.String("path", path), slog.Any("error", err))
	}
}

func cancelled(seq int, ref entity.RemoteFileRef, err error) entity.FetchOutcome {
	return entity.FetchOutcome{
		Seq:    seq,
		Ref:    ref,
		Status: entity.StatusFailed,
		Kind:   entity.FailureCancelled,
		Err:    fmt.Errorf("%w: not started: %w", common.ErrDownloadFailed, err),
	}
}
