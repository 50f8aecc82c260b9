package fetcher

import (
	"context"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// SourceOptions configures remote source access.
type SourceOptions struct {
	HTTPTimeout time.Duration
}

// Open returns a reader for a raw trip source. The source may be a local
// file path, an http(s):// URL, or an ftp:// URL. A source that cannot be
// opened is the single fatal ingestion condition, so any failure here is
// returned as an error rather than absorbed.
func Open(ctx context.Context, source string, opts SourceOptions) (io.ReadCloser, error) {
	if source == "" {
		return nil, eris.New("source: no source specified")
	}

	switch scheme(source) {
	case "http", "https":
		return NewHTTPFetcher(HTTPOptions{Timeout: opts.HTTPTimeout}).Download(ctx, source)
	case "ftp":
		return NewFTPFetcher(FTPOptions{Timeout: opts.HTTPTimeout}).Download(ctx, source)
	default:
		f, err := os.Open(source)
		if err != nil {
			return nil, eris.Wrapf(err, "source: open %s", source)
		}
		return f, nil
	}
}

func scheme(source string) string {
	if !strings.Contains(source, "://") {
		return ""
	}
	u, err := url.Parse(source)
	if err != nil {
		return ""
	}
	return u.Scheme
}
