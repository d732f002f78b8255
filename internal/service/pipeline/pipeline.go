package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jgivc/rinexfetch/internal/common"
	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/spf13/afero"
)

const (
	dirPerm      = 0755
	afterTimeout = 5 * time.Second
)

type Discoverer interface {
	Discover(ctx context.Context, baseURL string, dr entity.DateRange, filter entity.FilterSpec) (*entity.Discovery, error)
}

type Fetcher interface {
	FetchAll(ctx context.Context, refs []entity.RemoteFileRef, root string, concurrency int, onProgress func(completed, total int)) []entity.FetchOutcome
}

type StatsRecorder interface {
	RecordRun(ctx context.Context, summary *entity.Summary) error
}

type ReportWriter interface {
	Write(summary *entity.Summary) (string, error)
}

type Config struct {
	BaseURLs    map[string]string // File type name to archive base url
	Concurrency int               // Used when a request leaves it at zero
	Deduplicate bool
}

// Request is what the user supplies for one run.
type Request struct {
	Start       string // YYYY-MM-DD
	End         string // YYYY-MM-DD, inclusive
	Prefixes    string // Comma separated prefixes or "all"
	FileType    string
	Destination string
	Concurrency int

	OnProgress func(completed, total int)
}

// plan is a validated request.
type plan struct {
	dr          entity.DateRange
	filter      entity.FilterSpec
	fileType    string
	baseURL     string
	destination string
	concurrency int
}

type Pipeline struct {
	running    atomic.Bool
	discoverer Discoverer
	fetcher    Fetcher
	fs         afero.Fs
	stats      StatsRecorder
	report     ReportWriter
	cfg        Config
	log        *slog.Logger
}

func NewPipeline(discoverer Discoverer, fetcher Fetcher, fs afero.Fs, cfg Config, log *slog.Logger) *Pipeline {
	return &Pipeline{
		discoverer: discoverer,
		fetcher:    fetcher,
		fs:         fs,
		cfg:        cfg,
		log:        log.With(slog.String("item", "Pipeline")),
	}
}

// WithStats records every finished run. A nil recorder disables recording.
func (p *Pipeline) WithStats(stats StatsRecorder) *Pipeline {
	p.stats = stats

	return p
}

// WithReport writes a report for every finished run. A nil writer disables reports.
func (p *Pipeline) WithReport(report ReportWriter) *Pipeline {
	p.report = report

	return p
}

// Run validates req, discovers matching files and downloads them.
// Errors are returned only for invalid requests and unusable destinations; everything
// that goes wrong per day or per file ends up in the summary.
func (p *Pipeline) Run(ctx context.Context, req Request) (*entity.Summary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, common.ErrRunHasAlreadyStarted
	}
	defer p.running.Store(false)

	pl, err := p.validate(req)
	if err != nil {
		p.log.Error("Invalid request", slog.Any("error", err))

		return nil, err
	}

	summary := &entity.Summary{
		RunID:       uuid.NewString(),
		FileType:    pl.fileType,
		BaseURL:     pl.baseURL,
		Range:       pl.dr,
		Filter:      pl.filter,
		Destination: pl.destination,
		StartedAt:   time.Now(),
	}

	log := p.log.With(slog.String("run_id", summary.RunID))
	log.Info("Start run",
		slog.String("file_type", pl.fileType),
		slog.String("range", pl.dr.String()),
		slog.String("filter", pl.filter.String()),
		slog.String("destination", pl.destination))

	p.execute(ctx, pl, req.OnProgress, summary, log)

	summary.FinishedAt = time.Now()

	log.Info("Run finished",
		slog.Int("discovered", summary.Discovered),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int64("bytes", summary.BytesWritten),
		slog.Bool("interrupted", summary.Interrupted),
		slog.Duration("duration", summary.Duration()))

	p.after(ctx, summary, log)

	return summary, nil
}

func (p *Pipeline) execute(ctx context.Context, pl *plan, onProgress func(completed, total int), summary *entity.Summary, log *slog.Logger) {
	discovery, err := p.discoverer.Discover(ctx, pl.baseURL, pl.dr, pl.filter)
	if discovery != nil {
		summary.Discovered = len(discovery.Refs)
		summary.SkippedDays = discovery.Skipped
	}

	if err != nil {
		log.Warn("Discovery stopped", slog.Any("error", err))
		summary.Interrupted = true

		return
	}

	if len(discovery.Refs) == 0 {
		log.Info("Nothing to do")
		summary.NothingToDo = true

		return
	}

	refs := discovery.Refs
	if p.cfg.Deduplicate {
		refs = dedup(refs)
		summary.Duplicates = len(discovery.Refs) - len(refs)
		if summary.Duplicates > 0 {
			log.Info("Dropped duplicate files", slog.Int("count", summary.Duplicates))
		}
	}

	outcomes := p.fetcher.FetchAll(ctx, refs, pl.destination, pl.concurrency, onProgress)
	aggregate(summary, outcomes)

	if ctx.Err() != nil {
		summary.Interrupted = true
	}
}

// after hands the summary to the optional collaborators. Their failures are only logged.
func (p *Pipeline) after(ctx context.Context, summary *entity.Summary, log *slog.Logger) {
	if p.stats != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), afterTimeout)
		if err := p.stats.RecordRun(sctx, summary); err != nil {
			log.Error("Cannot record run statistics", slog.Any("error", err))
		}
		cancel()
	}

	if p.report != nil {
		path, err := p.report.Write(summary)
		if err != nil {
			log.Error("Cannot write report", slog.Any("error", err))

			return
		}

		summary.ReportPath = path
		log.Info("Report written", slog.String("path", path))
	}
}

func (p *Pipeline) validate(req Request) (*plan, error) {
	dr, err := entity.ParseDateRange(req.Start, req.End)
	if err != nil {
		return nil, err
	}

	filter, err := entity.ParseFilterSpec(req.Prefixes)
	if err != nil {
		return nil, err
	}

	fileType := strings.ToLower(strings.TrimSpace(req.FileType))
	baseURL, ok := p.cfg.BaseURLs[fileType]
	if !ok || baseURL == "" {
		return nil, fmt.Errorf("%w: %w: %q", common.ErrInvalidInput, common.ErrUnknownFileType, req.FileType)
	}

	concurrency := req.Concurrency
	if concurrency == 0 {
		concurrency = p.cfg.Concurrency
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be at least 1, got %d", common.ErrInvalidInput, concurrency)
	}

	destination, err := p.prepareDestination(req.Destination)
	if err != nil {
		return nil, err
	}

	return &plan{
		dr:          dr,
		filter:      filter,
		fileType:    fileType,
		baseURL:     strings.TrimRight(baseURL, "/"),
		destination: destination,
		concurrency: concurrency,
	}, nil
}

// prepareDestination makes sure dir is an existing directory, creating it if needed.
func (p *Pipeline) prepareDestination(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", fmt.Errorf("%w: empty destination", common.ErrInvalidInput)
	}

	if !filepath.IsAbs(dir) {
		return "", fmt.Errorf("%w: destination %s is not an absolute path", common.ErrInvalidInput, dir)
	}
	dir = filepath.Clean(dir)

	info, err := p.fs.Stat(dir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return "", fmt.Errorf("%w: %s is not a directory", common.ErrDestinationUnusable, dir)
		}
	case errors.Is(err, afero.ErrFileNotFound):
		if err := p.fs.MkdirAll(dir, dirPerm); err != nil {
			return "", fmt.Errorf("%w: cannot create %s: %w", common.ErrDestinationUnusable, dir, err)
		}
	default:
		return "", fmt.Errorf("%w: %w", common.ErrDestinationUnusable, err)
	}

	return dir, nil
}

// dedup keeps the first ref for every local path.
func dedup(refs []entity.RemoteFileRef) []entity.RemoteFileRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]entity.RemoteFileRef, 0, len(refs))

	for _, ref := range refs {
		key := ref.RelativePath()
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, ref)
	}

	return out
}

func aggregate(summary *entity.Summary, outcomes []entity.FetchOutcome) {
	sorted := make([]entity.FetchOutcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	for _, o := range sorted {
		if o.Succeeded() {
			summary.Succeeded++
			summary.BytesWritten += o.BytesWritten
			summary.Downloaded = append(summary.Downloaded, o.Ref.FileName())

			continue
		}

		summary.Failed++
		summary.Failures = append(summary.Failures, entity.Failure{
			Ref:      o.Ref,
			FileName: o.Ref.FileName(),
			Kind:     o.Kind,
			Reason:   o.Reason(),
		})
	}
}
