package buspass

import (
	"encoding/base64"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"studx/internal/objectstore"
)

// StagedPhoto is a selected image held in memory until submission.
type StagedPhoto struct {
	Filename    string
	Data        []byte
	ContentType string

	sniffedExt string
}

// StagePhoto retains data and sniffs its content type. Nothing is validated.
func StagePhoto(filename string, data []byte) *StagedPhoto {
	mt := mimetype.Detect(data)
	return &StagedPhoto{
		Filename:    filename,
		Data:        data,
		ContentType: mt.String(),
		sniffedExt:  mt.Extension(),
	}
}

// PreviewDataURL renders the photo as a data URL for an <img> preview.
func (p *StagedPhoto) PreviewDataURL() string {
	if p == nil {
		return ""
	}
	ct := p.ContentType
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

// Ext returns the extension the photo is stored under, without the dot.
// The filename's extension is kept only when it names the same image type
// the content sniffs as; otherwise the sniffed image extension is used, and
// content that is not an allowlisted image gets "bin".
func (p *StagedPhoto) Ext() string {
	sniffed := p.ContentType
	if i := strings.IndexByte(sniffed, ';'); i >= 0 {
		sniffed = sniffed[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(p.Filename), "."))
	if ct, ok := objectstore.ImageType(ext); ok && ct == sniffed {
		return ext
	}
	if ct, ok := objectstore.ImageType(p.sniffedExt); ok && ct == sniffed {
		return strings.TrimPrefix(p.sniffedExt, ".")
	}
	return "bin"
}
