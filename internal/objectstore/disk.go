package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Disk stores objects as files under root/<bucket>/<name>. Handler serves
// them back at urlPrefix.
type Disk struct {
	root      string
	urlPrefix string
}

// NewDisk creates the root directory if needed.
func NewDisk(root, urlPrefix string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Disk{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

// Root returns the directory objects are written under.
func (d *Disk) Root() string { return d.root }

// Upload writes data to the bucket. With Overwrite unset the file is created
// exclusively and an existing name yields ErrObjectExists.
func (d *Disk) Upload(ctx context.Context, bucket, name string, data []byte, opts UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := d.path(bucket, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create bucket dir: %w", err)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if opts.Overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrObjectExists
		}
		return fmt.Errorf("open object: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write object: %w", err)
	}
	return f.Close()
}

// PublicURL returns the path the object is served at.
func (d *Disk) PublicURL(bucket, name string) string {
	return d.urlPrefix + "/" + url.PathEscape(bucket) + "/" + url.PathEscape(name)
}

// Handler serves stored objects at /<bucket>/<name>; mount it under the URL
// prefix with the prefix stripped. Only allowlisted image extensions get an
// image content type; anything else downloads as an opaque attachment.
func (d *Disk) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		bucket, name, ok := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		path, err := d.path(bucket, name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		f, err := os.Open(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "sandbox; default-src 'none'")
		if ct, ok := ImageType(filepath.Ext(name)); ok {
			h.Set("Content-Type", ct)
		} else {
			h.Set("Content-Type", "application/octet-stream")
			h.Set("Content-Disposition", "attachment")
		}
		http.ServeContent(w, r, "", info.ModTime(), f)
	})
}

func (d *Disk) path(bucket, name string) (string, error) {
	for _, part := range []string{bucket, name} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return "", fmt.Errorf("invalid object path %q/%q", bucket, name)
		}
	}
	return filepath.Join(d.root, bucket, name), nil
}
