package discover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jgivc/rinexfetch/internal/adapter/listing"
	"github.com/jgivc/rinexfetch/internal/common"
	"github.com/jgivc/rinexfetch/internal/entity"
)

type Getter interface {
	Get(ctx context.Context, url string, timeout time.Duration) (*http.Response, error)
}

// Discoverer walks the per-day folders of a remote archive one day at a time.
type Discoverer struct {
	client  Getter
	timeout time.Duration
	log     *slog.Logger
}

func NewDiscoverer(client Getter, timeout time.Duration, log *slog.Logger) *Discoverer {
	return &Discoverer{
		client:  client,
		timeout: timeout,
		log:     log.With(slog.String("item", "Discoverer")),
	}
}

// Discover lists baseURL/YEAR/DOY/ for every day of dr and returns the matching files
// in date then listing order. A day that cannot be listed is recorded and skipped.
// Only invalid input or a cancelled ctx produce an error.
func (d *Discoverer) Discover(ctx context.Context, baseURL string, dr entity.DateRange, filter entity.FilterSpec) (*entity.Discovery, error) {
	if dr.IsZero() {
		return nil, fmt.Errorf("%w: empty date range", common.ErrInvalidInput)
	}

	if filter.IsZero() {
		return nil, fmt.Errorf("%w: empty filter", common.ErrInvalidInput)
	}

	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("%w: empty base url", common.ErrInvalidInput)
	}

	log := d.log.With(slog.String("base_url", base))
	log.Info("Listing files", slog.String("range", dr.String()), slog.String("filter", filter.String()))

	result := &entity.Discovery{}

	for day := range dr.All() {
		if err := ctx.Err(); err != nil {
			log.Warn("Discovery interrupted", slog.Int("requests", result.Requests))

			return result, err
		}

		key := entity.DayKeyOf(day)
		dayURL := base + "/" + key.Path() + "/"

		result.Requests++
		refs, err := d.discoverDay(ctx, dayURL, filter, log)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				log.Warn("Discovery interrupted", slog.Int("requests", result.Requests))

				return result, ctxErr
			}

			log.Warn("Skip day", slog.String("url", dayURL), slog.Any("error", err))
			result.Skipped = append(result.Skipped, entity.DaySkip{Day: key, URL: dayURL, Reason: err.Error()})

			continue
		}

		log.Debug("Listed day", slog.String("url", dayURL), slog.Int("matches", len(refs)))
		result.Refs = append(result.Refs, refs...)
	}

	log.Info("Found files", slog.Int("count", len(result.Refs)), slog.Int("skipped_days", len(result.Skipped)))

	return result, nil
}

func (d *Discoverer) discoverDay(ctx context.Context, dayURL string, filter entity.FilterSpec, log *slog.Logger) ([]entity.RemoteFileRef, error) {
	resp, err := d.client.Get(ctx, dayURL, d.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrListingUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read listing: %w", common.ErrListingUnavailable, err)
	}

	links, err := listing.ParseLinks(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var refs []entity.RemoteFileRef
	for _, href := range links {
		if !isEntryLink(href) || !filter.Match(href) {
			continue
		}

		ref, err := entity.NewRemoteFileRef(dayURL + href)
		if err != nil {
			log.Warn("Skip link", slog.String("href", href), slog.Any("error", err))

			continue
		}

		refs = append(refs, ref)
	}

	return refs, nil
}

// isEntryLink rejects listing controls (sort toggles) and links leaving the day folder.
func isEntryLink(href string) bool {
	switch {
	case href == "",
		strings.HasPrefix(href, "?"),
		strings.HasPrefix(href, "#"),
		strings.HasPrefix(href, "/"),
		strings.HasPrefix(href, ".."),
		strings.Contains(href, "://"):
		return false
	}

	return true
}
