// Package download has utilities to download resources from URLs.
package download

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Download downloads a file from a URL to a local path, via a temporary
// file renamed into place on success.
func Download(client *http.Client, u *url.URL, path string) error {
	return download(client, u, path, false)
}

// Decompressed downloads and gunzips a file from a URL to a local path.
// Non-gz URLs are downloaded as-is.
func Decompressed(client *http.Client, u *url.URL, path string) error {
	return download(client, u, path, strings.HasSuffix(u.Path, "gz"))
}

func download(client *http.Client, u *url.URL, path string, gz bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(path), fmt.Sprintf("%s*", filepath.Base(path)))
	if err != nil {
		return err
	}
	defer func() {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
	}()

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("get %s: unexpected status %d", u, resp.StatusCode)
	}

	var body io.Reader = resp.Body
	if gz {
		gzr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return err
		}
		defer gzr.Close()
		body = gzr
	}

	if _, err := io.Copy(tmpFile, body); err != nil {
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	return os.Rename(tmpFile.Name(), path)
}
