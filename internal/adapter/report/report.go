package report

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	_ "embed"

	"github.com/dustin/go-humanize"
	"github.com/jgivc/rinexfetch/internal/common"
	"github.com/jgivc/rinexfetch/internal/entity"
	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
	"gopkg.in/yaml.v2"
)

const (
	ExtMarkdown = ".md"
	ExtHTML     = ".html"

	dirPerm  = 0755
	filePerm = 0644
)

var (
	//go:embed templates/report.md
	markdownTemplateContent string

	//go:embed templates/report.html
	pageTemplateContent string

	cellReplacer = strings.NewReplacer("|", `\|`, "\r", " ", "\n", " ")
)

// Frontmatter is the machine readable head of a report.
type Frontmatter struct {
	RunID       string   `yaml:"run_id"`
	FileType    string   `yaml:"file_type"`
	Start       string   `yaml:"start"`
	End         string   `yaml:"end"`
	Prefixes    []string `yaml:"prefixes"`
	Discovered  int      `yaml:"discovered"`
	Succeeded   int      `yaml:"succeeded"`
	Failed      int      `yaml:"failed"`
	Bytes       int64    `yaml:"bytes"`
	Interrupted bool     `yaml:"interrupted"`
	StartedAt   string   `yaml:"started_at"`
	Duration    string   `yaml:"duration"`
}

type markdownContext struct {
	*entity.Summary
	Frontmatter string
}

type pageContext struct {
	Title   string
	Content htmltemplate.HTML
}

type reportWriter struct {
	fs   afero.Fs
	dir  string
	md   goldmark.Markdown
	mdt  *template.Template
	page *htmltemplate.Template
	log  *slog.Logger
}

// NewReportWriter writes reports into dir below the run destination. An absolute dir is used as is.
func NewReportWriter(fs afero.Fs, dir string, log *slog.Logger) (*reportWriter, error) {
	mdt, err := template.New("report").Funcs(template.FuncMap{
		"bytes": func(n int64) string { return humanize.Bytes(uint64(max(n, 0))) },
		"cell":  func(s string) string { return cellReplacer.Replace(s) },
	}).Parse(markdownTemplateContent)
	if err != nil {
		return nil, fmt.Errorf("cannot parse report template: %w", err)
	}

	page, err := htmltemplate.New("page").Parse(pageTemplateContent)
	if err != nil {
		return nil, fmt.Errorf("cannot parse page template: %w", err)
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
			extension.Table,
		),
		goldmark.WithRendererOptions(
			html.WithXHTML(),
		),
	)

	return &reportWriter{
		fs:   fs,
		dir:  dir,
		md:   md,
		mdt:  mdt,
		page: page,
		log:  log.With(slog.String("item", "ReportWriter")),
	}, nil
}

// Write renders summary as <run_id>.md and <run_id>.html and returns the markdown path.
func (w *reportWriter) Write(summary *entity.Summary) (string, error) {
	content, err := w.Markdown(summary)
	if err != nil {
		return "", err
	}

	page, err := w.HTML(summary, content)
	if err != nil {
		return "", err
	}

	dir := w.dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(summary.Destination, dir)
	}

	if err := w.fs.MkdirAll(dir, dirPerm); err != nil {
		return "", fmt.Errorf("%w: cannot create report directory %s: %w", common.ErrFilesystem, dir, err)
	}

	mdPath := filepath.Join(dir, summary.RunID+ExtMarkdown)
	if err := afero.WriteFile(w.fs, mdPath, content, filePerm); err != nil {
		return "", fmt.Errorf("%w: cannot write report %s: %w", common.ErrFilesystem, mdPath, err)
	}

	htmlPath := filepath.Join(dir, summary.RunID+ExtHTML)
	if err := afero.WriteFile(w.fs, htmlPath, page, filePerm); err != nil {
		return "", fmt.Errorf("%w: cannot write report %s: %w", common.ErrFilesystem, htmlPath, err)
	}

	w.log.Debug("Report written", slog.String("markdown", mdPath), slog.String("html", htmlPath))

	return mdPath, nil
}

// Markdown renders summary as a markdown document with a yaml frontmatter block.
func (w *reportWriter) Markdown(summary *entity.Summary) ([]byte, error) {
	fm, err := yaml.Marshal(newFrontmatter(summary))
	if err != nil {
		return nil, fmt.Errorf("cannot marshal frontmatter: %w", err)
	}

	var buf bytes.Buffer
	if err := w.mdt.Execute(&buf, &markdownContext{Summary: summary, Frontmatter: string(fm)}); err != nil {
		return nil, fmt.Errorf("cannot execute template: %w", err)
	}

	return buf.Bytes(), nil
}

// HTML converts a markdown report into a standalone page. The frontmatter is dropped.
func (w *reportWriter) HTML(summary *entity.Summary, content []byte) ([]byte, error) {
	var body bytes.Buffer
	if err := w.md.Convert(content, &body); err != nil {
		return nil, fmt.Errorf("cannot convert markdown: %w", err)
	}

	var page bytes.Buffer
	if err := w.page.Execute(&page, &pageContext{
		Title:   "Run " + summary.RunID,
		Content: htmltemplate.HTML(body.String()),
	}); err != nil {
		return nil, fmt.Errorf("cannot execute template: %w", err)
	}

	return page.Bytes(), nil
}

func newFrontmatter(s *entity.Summary) *Frontmatter {
	fm := &Frontmatter{
		RunID:       s.RunID,
		FileType:    s.FileType,
		Prefixes:    s.Filter.Prefixes(),
		Discovered:  s.Discovered,
		Succeeded:   s.Succeeded,
		Failed:      s.Failed,
		Bytes:       s.BytesWritten,
		Interrupted: s.Interrupted,
		Duration:    s.Duration().Round(time.Millisecond).String(),
	}

	if !s.Range.IsZero() {
		fm.Start = s.Range.Start().Format(entity.DateLayout)
		fm.End = s.Range.End().Format(entity.DateLayout)
	}

	if !s.StartedAt.IsZero() {
		fm.StartedAt = s.StartedAt.UTC().Format(time.RFC3339)
	}

	return fm
}
