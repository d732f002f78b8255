package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jgivc/rinexfetch/internal/adapter/httpclient"
	"github.com/jgivc/rinexfetch/internal/adapter/report"
	"github.com/jgivc/rinexfetch/internal/config"
	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/jgivc/rinexfetch/internal/repository/stats"
	"github.com/jgivc/rinexfetch/internal/service/discover"
	"github.com/jgivc/rinexfetch/internal/service/fetch"
	"github.com/jgivc/rinexfetch/internal/service/pipeline"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
)

const (
	pingTimeout = 3 * time.Second
	logFilePerm = 0644
)

var ErrStatsDisabled = errors.New("statistics are disabled, set redis_url")

type StatsReader interface {
	Stations(ctx context.Context) ([]stats.StationCount, error)
	Totals(ctx context.Context) (map[string]int64, error)
}

type statsRepository interface {
	StatsReader
	pipeline.StatsRecorder
}

type App struct {
	cfg      *config.Config
	log      *slog.Logger
	logFile  *os.File
	rdb      *redis.Client
	stats    StatsReader
	pipeline *pipeline.Pipeline
}

func New(cfg *config.Config) (*App, error) {
	return newApp(cfg, os.Stderr, afero.NewOsFs())
}

func newApp(cfg *config.Config, stderr io.Writer, fs afero.Fs) (*App, error) {
	a := &App{cfg: cfg}

	out := stderr
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFilePerm)
		if err != nil {
			return nil, fmt.Errorf("cannot open log file %s: %w", cfg.LogFile, err)
		}
		a.logFile = f
		out = io.MultiWriter(stderr, f)
	}

	log, err := newLogger(cfg.LogLevel, out)
	if err != nil {
		a.Close()

		return nil, err
	}
	a.log = log

	cl := httpclient.New(httpclient.Config{
		MaxAttempts:         cfg.HTTP.MaxAttempts,
		BackoffBase:         cfg.HTTP.BackoffBase,
		UserAgent:           cfg.HTTP.UserAgent,
		MaxIdleConnsPerHost: cfg.Fetch.Concurrency,
	}, log)

	discoverer := discover.NewDiscoverer(cl, cfg.HTTP.ListingTimeout, log)
	fetcher := fetch.NewFetcher(cl, fs, fetch.Config{
		Timeout:     cfg.HTTP.FileTimeout,
		ChunkSize:   cfg.Fetch.ChunkSize,
		KeepPartial: cfg.Fetch.KeepPartial,
	}, log)

	baseURLs := make(map[string]string, len(cfg.FileTypes))
	for name := range cfg.FileTypes {
		url, _ := cfg.BaseURL(name)
		baseURLs[name] = url
	}

	a.pipeline = pipeline.NewPipeline(discoverer, fetcher, fs, pipeline.Config{
		BaseURLs:    baseURLs,
		Concurrency: cfg.Fetch.Concurrency,
		Deduplicate: cfg.Fetch.Deduplicate,
	}, log)

	if cfg.Report.Enabled {
		rw, err := report.NewReportWriter(fs, cfg.Report.Dir, log)
		if err != nil {
			a.Close()

			return nil, err
		}
		a.pipeline.WithReport(rw)
	}

	if cfg.RedisURL != "" {
		repo, err := a.connectStats(cfg.RedisURL)
		if err != nil {
			// Statistics are optional, the downloads still work without them.
			log.Warn("Statistics are disabled", slog.Any("error", err))
		} else {
			a.stats = repo
			a.pipeline.WithStats(repo)
		}
	}

	return a, nil
}

func (a *App) connectStats(url string) (statsRepository, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cannot parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()

		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}

	a.rdb = rdb

	return stats.NewStatsRepository(rdb, a.log), nil
}

func newLogger(level string, w io.Writer) (*slog.Logger, error) {
	lo := &slog.HandlerOptions{}
	switch level {
	case config.LogLevelInfo:
		lo.Level = slog.LevelInfo
	case config.LogLevelWarn:
		lo.Level = slog.LevelWarn
	case config.LogLevelError:
		lo.Level = slog.LevelError
	case config.LogLevelDebug:
		lo.Level = slog.LevelDebug
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	return slog.New(slog.NewTextHandler(w, lo)), nil
}

func (a *App) Logger() *slog.Logger {
	return a.log
}

// Run downloads everything req selects and returns the run summary.
func (a *App) Run(ctx context.Context, req pipeline.Request) (*entity.Summary, error) {
	return a.pipeline.Run(ctx, req)
}

// Stats returns the per station counters and running totals recorded in redis.
func (a *App) Stats(ctx context.Context) ([]stats.StationCount, map[string]int64, error) {
	if a.stats == nil {
		return nil, nil, ErrStatsDisabled
	}

	stations, err := a.stats.Stations(ctx)
	if err != nil {
		return nil, nil, err
	}

	totals, err := a.stats.Totals(ctx)
	if err != nil {
		return nil, nil, err
	}

	return stations, totals, nil
}

func (a *App) Close() error {
	var errs []error

	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}

	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}

	return errors.Join(errs...)
}
