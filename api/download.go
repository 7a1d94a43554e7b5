package api

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// downloadFilePerm is the permission mode for downloaded files.
const downloadFilePerm = fs.FileMode(0o644)

// Download sends req and streams a successful response body to
// dir/fileName, returning the final path. An empty dir means
// os.TempDir(). The body is written to a temporary sibling and renamed
// into place, so readers never see a partial file. The body is not
// subject to WithMaxResponseBytes and interceptors see a Response with
// an empty Body and File set.
func (c *Client) Download(ctx context.Context, req *Request, dir, fileName string) (string, error) {
	target, err := downloadPath(dir, fileName)
	if err != nil {
		return "", err
	}

	dl := &download{dir: filepath.Dir(target), base: filepath.Base(target)}
	defer dl.cleanup()

	resp, err := c.execute(context.WithValue(ctx, downloadKey{}, dl), uuid.New(), req)
	if err != nil {
		return "", err
	}

	// An interceptor may have replaced the streamed result with a
	// buffered one.
	if resp.File == "" {
		err = writeFileAtomic(target, resp.Body)
	} else {
		err = dl.commit(resp.File, target)
	}

	if err != nil {
		return "", fmt.Errorf("saving download: %w", err)
	}

	return target, nil
}

type downloadKey struct{}

// download tracks the temporary files written for one Download call.
// Resubmissions made by interceptors share the caller's context and so
// stream into the same download.
type download struct {
	dir  string
	base string

	mu        sync.Mutex
	temps     []string
	committed string
}

func downloadFrom(ctx context.Context) *download {
	dl, _ := ctx.Value(downloadKey{}).(*download)
	return dl
}

// store copies body into a new temporary file and returns its path.
func (d *download) store(body io.Reader) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", d.dir, err)
	}

	tmp, err := os.CreateTemp(d.dir, "."+d.base+".*.tmp")
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.temps = append(d.temps, tmp.Name())
	d.mu.Unlock()

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", err
	}

	if err := tmp.Close(); err != nil {
		return "", err
	}

	return tmp.Name(), nil
}

func (d *download) commit(tmpName, target string) error {
	if err := os.Chmod(tmpName, downloadFilePerm); err != nil {
		return err
	}

	if err := os.Rename(tmpName, target); err != nil {
		return err
	}

	d.mu.Lock()
	d.committed = tmpName
	d.mu.Unlock()

	return nil
}

// cleanup removes every temporary file that was not renamed into place.
func (d *download) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, name := range d.temps {
		if name != d.committed {
			os.Remove(name)
		}
	}
}

// downloadPath resolves fileName inside dir and rejects names that would
// escape it.
func downloadPath(dir, fileName string) (string, error) {
	if dir == "" {
		dir = os.TempDir()
	}

	fileName = norm.NFC.String(fileName)
	if fileName == "" || fileName == "." || fileName == ".." {
		return "", fmt.Errorf("invalid download file name %q", fileName)
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving download directory: %w", err)
	}

	target := filepath.Join(absDir, fileName)
	if !strings.HasPrefix(target, absDir+string(filepath.Separator)) {
		return "", fmt.Errorf("download file name %q escapes %s", fileName, absDir)
	}

	return target, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Chmod(tmpName, downloadFilePerm); err != nil {
		os.Remove(tmpName)
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	return nil
}
