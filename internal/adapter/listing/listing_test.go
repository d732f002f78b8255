package listing

import (
	"errors"
	"strings"
	"testing"

	"github.com/jgivc/rinexfetch/internal/common"
	"github.com/stretchr/testify/require"
)

const apacheIndex = `<!DOCTYPE HTML PUBLIC "-//W3C//DTD HTML 3.2 Final//EN">
<html>
 <head><title>Index of /pub/rinex/2024/015</title></head>
 <body>
<h1>Index of /pub/rinex/2024/015</h1>
<table>
<tr><th><a href="?C=N;O=D">Name</a></th><th><a href="?C=M;O=A">Last modified</a></th></tr>
<tr><td><a href="/pub/rinex/2024/">Parent Directory</a></td></tr>
<tr><td><a href="abcd0150.24d.Z">abcd0150.24d.Z</a></td></tr>
<tr><td><a href="ABMF0150.24d.Z">ABMF0150.24d.Z</a></td></tr>
<tr><td><a name="anchor-only">no href</a></td></tr>
<tr><td><a href="">empty</a></td></tr>
</table>
</body></html>`

func TestParseLinks(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		expect []string
	}{
		{
			name: "Apache index",
			body: apacheIndex,
			expect: []string{
				"?C=N;O=D",
				"?C=M;O=A",
				"/pub/rinex/2024/",
				"abcd0150.24d.Z",
				"ABMF0150.24d.Z",
				"",
			},
		},
		{
			name:   "Unclosed markup",
			body:   `<pre><a href="one.24o">one<a href="two.24o">two`,
			expect: []string{"one.24o", "two.24o"},
		},
		{
			name: "No anchors",
			body: "plain text listing",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			links, err := ParseLinks(strings.NewReader(tc.body))
			require.NoError(t, err)
			require.Equal(t, tc.expect, links)
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestParseLinksReadError(t *testing.T) {
	_, err := ParseLinks(failingReader{})
	require.ErrorIs(t, err, common.ErrParseAnomaly)
}
