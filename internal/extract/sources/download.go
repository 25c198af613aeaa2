package sources

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/fetcher"
)

// ensureDownload downloads url to dest unless dest already exists. Bulk
// files are large and change rarely, so a present file is reused until the
// operator deletes it.
func ensureDownload(ctx context.Context, c *fetcher.Client, url, dest string) error {
	if _, err := os.Stat(dest); err == nil {
		zap.L().Info("using downloaded file", zap.String("source", c.Source()), zap.String("path", dest))
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "stat %s", dest)
	}
	if _, err := c.Download(ctx, url, dest); err != nil {
		return eris.Wrapf(err, "download %s", url)
	}
	return nil
}
