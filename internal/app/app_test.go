package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jgivc/rinexfetch/internal/config"
	"github.com/jgivc/rinexfetch/internal/service/pipeline"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const listing = `<html><body>
<a href="?C=N;O=D">Name</a>
<a href="/pub/rinex/2024/">Parent Directory</a>
<a href="abcd0150.24o">abcd0150.24o</a>
<a href="efgh0150.24o">efgh0150.24o</a>
<a href="abcd0159.24o">abcd0159.24o</a>
</body></html>`

func newArchive(t *testing.T) *httptest.Server {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/pub/rinex/2024/015/":
			w.Write([]byte(listing))
		case "/pub/rinex/2024/015/abcd0150.24o":
			w.Write([]byte("observation data"))
		case "/pub/rinex/2024/015/efgh0150.24o":
			w.Write([]byte("other station"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	return server
}

func testConfig(t *testing.T, server *httptest.Server) *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.FileTypes[config.FileTypeObs] = server.URL + "/pub/rinex/"
	cfg.HTTP.MaxAttempts = 1
	cfg.HTTP.ListingTimeout = time.Second
	cfg.HTTP.FileTimeout = time.Second
	cfg.LogFile = filepath.Join(t.TempDir(), "rinexfetch.log")
	cfg.Report.Enabled = true
	require.NoError(t, cfg.Validate())

	return cfg
}

func TestRun(t *testing.T) {
	server := newArchive(t)
	cfg := testConfig(t, server)

	var stderr bytes.Buffer
	a, err := newApp(cfg, &stderr, afero.NewOsFs())
	require.NoError(t, err)

	dest := t.TempDir()
	summary, err := a.Run(context.Background(), pipeline.Request{
		Start:       "2024-01-15",
		End:         "2024-01-15",
		Prefixes:    "ABCD",
		FileType:    "obs",
		Destination: dest,
	})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	require.Equal(t, 2, summary.Discovered)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, "abcd0159.24o", summary.Failures[0].FileName)

	data, err := os.ReadFile(filepath.Join(dest, "rinex", "2024", "015", "abcd0150.24o"))
	require.NoError(t, err)
	require.Equal(t, "observation data", string(data))

	_, err = os.Stat(filepath.Join(dest, "rinex", "2024", "015", "abcd0159.24o"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dest, "rinex", "2024", "015", "efgh0150.24o"))
	require.True(t, os.IsNotExist(err))

	require.Equal(t, filepath.Join(dest, "reports", summary.RunID+".md"), summary.ReportPath)
	_, err = os.Stat(summary.ReportPath)
	require.NoError(t, err)

	logData, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	require.Contains(t, string(logData), "Run finished")
	require.Contains(t, stderr.String(), "Run finished")

	_, _, err = a.Stats(context.Background())
	require.ErrorIs(t, err, ErrStatsDisabled)
}

func TestNewBadLogLevel(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.LogLevel = "trace"

	_, err := newApp(cfg, &bytes.Buffer{}, afero.NewMemMapFs())
	require.Error(t, err)
}

func TestNewUnreachableRedis(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.RedisURL = "redis://127.0.0.1:1/0"

	var stderr bytes.Buffer
	a, err := newApp(cfg, &stderr, afero.NewMemMapFs())
	require.NoError(t, err, "statistics are optional")
	defer a.Close()

	require.Contains(t, stderr.String(), "Statistics are disabled")

	_, _, err = a.Stats(context.Background())
	require.ErrorIs(t, err, ErrStatsDisabled)
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{config.LogLevelDebug, config.LogLevelInfo, config.LogLevelWarn, config.LogLevelError} {
		var buf bytes.Buffer
		log, err := newLogger(level, &buf)
		require.NoError(t, err)

		log.Warn("visible")
		log.Debug("hidden unless debug")

		require.Equal(t, level != config.LogLevelError, bytes.Contains(buf.Bytes(), []byte("visible")), level)
		require.Equal(t, level == config.LogLevelDebug, bytes.Contains(buf.Bytes(), []byte("hidden")), level)
	}
}
