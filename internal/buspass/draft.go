package buspass

import (
	"fmt"
	"strings"

	"studx/internal/auth"
)

// Field identifies one form input. Values are the form and column names.
type Field string

const (
	FieldName            Field = "name"
	FieldEmail           Field = "email"
	FieldRegNo           Field = "regno"
	FieldCollege         Field = "college"
	FieldAddress         Field = "address"
	FieldDestinationFrom Field = "destination_from"
	FieldDestinationTo   Field = "destination_to"
	FieldVia1            Field = "via_1"
	FieldVia2            Field = "via_2"
)

// Fields lists every form field in display order.
var Fields = []Field{
	FieldName, FieldEmail, FieldRegNo, FieldCollege, FieldAddress,
	FieldDestinationFrom, FieldDestinationTo, FieldVia1, FieldVia2,
}

var requiredFields = []Field{
	FieldName, FieldEmail, FieldRegNo, FieldCollege, FieldAddress,
	FieldDestinationFrom, FieldDestinationTo,
}

// Draft is an unsaved application. The email always comes from the identity.
type Draft struct {
	values map[Field]string
	photo  *StagedPhoto
}

// NewDraft starts an empty draft for id.
func NewDraft(id *auth.Identity) *Draft {
	d := &Draft{values: make(map[Field]string, len(Fields))}
	if id != nil {
		d.values[FieldEmail] = id.Email
	}
	return d
}

// Set updates one field without validating it. The email field is read-only
// and unknown fields are ignored.
func (d *Draft) Set(f Field, value string) {
	if f == FieldEmail || !knownField(f) {
		return
	}
	d.values[f] = value
}

// Get returns the current value of f.
func (d *Draft) Get(f Field) string { return d.values[f] }

// Values returns a copy of all field values keyed by form name.
func (d *Draft) Values() map[string]string {
	out := make(map[string]string, len(Fields))
	for _, f := range Fields {
		out[string(f)] = d.values[f]
	}
	return out
}

// StagePhoto replaces the staged photo; nil clears it.
func (d *Draft) StagePhoto(p *StagedPhoto) { d.photo = p }

// Photo returns the staged photo, or nil.
func (d *Draft) Photo() *StagedPhoto { return d.photo }

// Validate checks that every required field has a non-blank value.
func (d *Draft) Validate() error {
	var missing []Field
	for _, f := range requiredFields {
		if strings.TrimSpace(d.values[f]) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}
	return nil
}

func (d *Draft) record(id *auth.Identity, photoURL, qrCode string) Record {
	v := func(f Field) string { return strings.TrimSpace(d.values[f]) }
	return Record{
		UserID:            id.ID,
		Name:              v(FieldName),
		Email:             id.Email,
		RegNo:             v(FieldRegNo),
		College:           v(FieldCollege),
		Address:           v(FieldAddress),
		DestinationFrom:   v(FieldDestinationFrom),
		DestinationTo:     v(FieldDestinationTo),
		Via1:              v(FieldVia1),
		Via2:              v(FieldVia2),
		PhotoURL:          photoURL,
		QRCode:            qrCode,
		ApplicationStatus: StatusApproved,
	}
}

func knownField(f Field) bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

// ValidationError lists required fields left blank.
type ValidationError struct {
	Missing []Field
}

func (e *ValidationError) Error() string {
	names := make([]string, len(e.Missing))
	for i, f := range e.Missing {
		names[i] = string(f)
	}
	return fmt.Sprintf("missing required fields: %s", strings.Join(names, ", "))
}
