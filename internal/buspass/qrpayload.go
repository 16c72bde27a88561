package buspass

import (
	"encoding/json"
	"strings"
	"time"

	"studx/internal/auth"
)

// QRPayload is the verification seed stored in the qr_code column. It is not
// the value drawn into the pass QR symbol; see VerificationURL.
type QRPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	RegNo     string `json:"regno"`
	Timestamp int64  `json:"timestamp"`
}

// NewQRPayload builds the payload for a submission made at now.
func NewQRPayload(id *auth.Identity, d *Draft, now time.Time) QRPayload {
	return QRPayload{
		ID:        id.ID,
		Name:      strings.TrimSpace(d.Get(FieldName)),
		RegNo:     strings.TrimSpace(d.Get(FieldRegNo)),
		Timestamp: now.UnixMilli(),
	}
}

// Encode returns the JSON form.
func (p QRPayload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
