package entity

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/jgivc/rinexfetch/internal/common"
)

// TailSegments is the number of trailing URL path components mirrored locally:
// collection folder, year, day-of-year and file name.
const TailSegments = 4

// RemoteFileRef is a discovered remote file. It is never mutated after creation.
type RemoteFileRef struct {
	url      string
	segments []string
}

func NewRemoteFileRef(rawURL string) (RemoteFileRef, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return RemoteFileRef{}, fmt.Errorf("%w: cannot parse url %q: %w", common.ErrInvalidInput, rawURL, err)
	}

	if !u.IsAbs() {
		return RemoteFileRef{}, fmt.Errorf("%w: url %q is not absolute", common.ErrInvalidInput, rawURL)
	}

	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < TailSegments {
		return RemoteFileRef{}, fmt.Errorf("%w: url %q has fewer than %d path segments", common.ErrInvalidInput, rawURL, TailSegments)
	}

	tail := make([]string, TailSegments)
	copy(tail, parts[len(parts)-TailSegments:])

	for _, s := range tail {
		if s == "" || s == "." || s == ".." {
			return RemoteFileRef{}, fmt.Errorf("%w: url %q has an unusable path segment %q", common.ErrInvalidInput, rawURL, s)
		}
	}

	return RemoteFileRef{url: rawURL, segments: tail}, nil
}

func (r RemoteFileRef) URL() string { return r.url }

func (r RemoteFileRef) Segments() []string {
	out := make([]string, len(r.segments))
	copy(out, r.segments)

	return out
}

func (r RemoteFileRef) FileName() string {
	if len(r.segments) == 0 {
		return ""
	}

	return r.segments[len(r.segments)-1]
}

// RelativePath is the slash separated tail, e.g. `rinex/2024/015/abcd0150.24o`.
func (r RemoteFileRef) RelativePath() string {
	return path.Join(r.segments...)
}

// LocalPath returns root joined with the tail segments.
func (r RemoteFileRef) LocalPath(root string) string {
	return filepath.Join(append([]string{root}, r.segments...)...)
}

func (r RemoteFileRef) String() string {
	return r.url
}
