// Package objectstore stores uploaded photos under caller-chosen names and
// hands back URLs browsers can load them from.
package objectstore

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ErrObjectExists is returned by Upload when overwrite is disabled and the name is taken.
var ErrObjectExists = errors.New("object already exists")

// UploadOptions controls a single upload.
type UploadOptions struct {
	Overwrite    bool
	CacheControl string
	ContentType  string
}

// Store is an object storage bucket collection.
type Store interface {
	Upload(ctx context.Context, bucket, name string, data []byte, opts UploadOptions) error
	PublicURL(bucket, name string) string
}

// imageTypes maps the extensions served inline to their content type.
var imageTypes = map[string]string{
	"avif": "image/avif",
	"bmp":  "image/bmp",
	"gif":  "image/gif",
	"heic": "image/heic",
	"heif": "image/heif",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

// ImageType reports the content type for a raster image extension. SVG is
// not listed because it can carry script.
func ImageType(ext string) (string, bool) {
	ct, ok := imageTypes[strings.TrimPrefix(strings.ToLower(ext), ".")]
	return ct, ok
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// ObjectName builds a collision-resistant name: "<unix millis>-<random>.<ext>".
func ObjectName(now time.Time, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + randomSuffix(8) + "." + ext
}

func randomSuffix(n int) string {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(base36)))
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS source is unavailable.
			v = big.NewInt(time.Now().UnixNano() % int64(len(base36)))
		}
		b.WriteByte(base36[v.Int64()])
	}
	return b.String()
}
