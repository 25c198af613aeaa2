package fetcher

import (
	"context"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/org-directory/internal/resilience"
)

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "fetcher: parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("fetcher: expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" || path == "/" {
		return "", "", eris.New("fetcher: empty path in ftp url")
	}
	return host, path, nil
}

// ftpDownload retrieves rawURL anonymously into w. The context deadline
// bounds the dial and is applied to the data connection, so a stalled
// transfer fails instead of hanging.
func (c *Client) ftpDownload(ctx context.Context, rawURL string, w io.Writer) (int64, error) {
	host, path, err := parseFTPURL(rawURL)
	if err != nil {
		return 0, resilience.NewFatalError(err, 0)
	}

	dialTimeout := c.opts.Timeout
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < dialTimeout {
		dialTimeout = time.Until(dl)
	}
	conn, err := ftp.Dial(host, ftp.DialWithTimeout(dialTimeout), ftp.DialWithContext(ctx))
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: ftp dial")
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return 0, resilience.NewFatalError(eris.Wrap(err, "fetcher: ftp login"), 0)
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return 0, eris.Wrap(err, "fetcher: ftp retrieve")
	}
	defer resp.Close() //nolint:errcheck

	if dl, ok := ctx.Deadline(); ok {
		if err := resp.SetDeadline(dl); err != nil {
			return 0, eris.Wrap(err, "fetcher: ftp set deadline")
		}
	}

	n, err := io.Copy(w, resp)
	if err != nil {
		return n, eris.Wrap(err, "fetcher: ftp read")
	}
	return n, nil
}
