package web

import (
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"studx/internal/auth"
	"studx/internal/buspass"
)

var fieldLabels = map[buspass.Field]string{
	buspass.FieldName:            "Full Name",
	buspass.FieldEmail:           "Email",
	buspass.FieldRegNo:           "Registration Number",
	buspass.FieldCollege:         "College",
	buspass.FieldAddress:         "Address",
	buspass.FieldDestinationFrom: "From",
	buspass.FieldDestinationTo:   "To",
	buspass.FieldVia1:            "Via 1 (Optional)",
	buspass.FieldVia2:            "Via 2 (Optional)",
}

type formField struct {
	Name     string
	Label    string
	Value    string
	Required bool
	ReadOnly bool
	Missing  bool
}

var errUploadTooLarge = errors.New("photo is too large")

// formOverhead is the body allowance for text fields on top of the photo limit.
const formOverhead = 1 << 20

// readDraft builds a draft from a multipart or urlencoded body. A missing
// photo part is not an error. The returned draft is never nil and carries
// whatever fields were read before a failure.
func readDraft(c *gin.Context, id *auth.Identity, maxBytes int64) (*buspass.Draft, error) {
	d := buspass.NewDraft(id)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+formOverhead)
	if err := c.Request.ParseMultipartForm(maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return d, errUploadTooLarge
		}
		return d, fmt.Errorf("read form: %w", err)
	}

	for _, f := range buspass.Fields {
		d.Set(f, c.PostForm(string(f)))
	}

	file, header, err := c.Request.FormFile("photo")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return d, nil
	case err != nil:
		return d, fmt.Errorf("read photo: %w", err)
	}
	defer file.Close()
	if header.Size > maxBytes {
		return d, errUploadTooLarge
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return d, fmt.Errorf("read photo: %w", err)
	}
	if len(data) > 0 {
		d.StagePhoto(buspass.StagePhoto(header.Filename, data))
	}
	return d, nil
}

func formFields(d *buspass.Draft, missing []buspass.Field) []formField {
	miss := make(map[buspass.Field]bool, len(missing))
	for _, f := range missing {
		miss[f] = true
	}
	out := make([]formField, 0, len(buspass.Fields))
	for _, f := range buspass.Fields {
		out = append(out, formField{
			Name:     string(f),
			Label:    fieldLabels[f],
			Value:    d.Get(f),
			Required: f != buspass.FieldVia1 && f != buspass.FieldVia2,
			ReadOnly: f == buspass.FieldEmail,
			Missing:  miss[f],
		})
	}
	return out
}

func previewURL(d *buspass.Draft) template.URL {
	return template.URL(d.Photo().PreviewDataURL())
}
