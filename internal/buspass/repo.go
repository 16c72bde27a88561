package buspass

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

const recordColumns = `id, user_id, name, email, regno, college, address,
	destination_from, destination_to, via_1, via_2, photo_url, qr_code,
	application_status, created_at, updated_at`

// Repository persists pass records in the Postgres students table.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes rec with a fresh id and returns the stored row.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ApplicationStatus == "" {
		rec.ApplicationStatus = StatusApproved
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, user_id, name, email, regno, college, address,
			destination_from, destination_to, via_1, via_2, photo_url, qr_code, application_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		RETURNING `+recordColumns,
		rec.ID, rec.UserID, rec.Name, rec.Email, rec.RegNo, rec.College, rec.Address,
		rec.DestinationFrom, rec.DestinationTo, rec.Via1, rec.Via2, rec.PhotoURL, rec.QRCode, rec.ApplicationStatus)
	return scanRecord(row)
}

// GetByID returns a single record by id.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Record{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM students WHERE id = $1`, id)
	return scanRecord(row)
}

// GetByUser returns the user's most recent record.
func (r *Repository) GetByUser(ctx context.Context, userID string) (Record, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return Record{}, ErrNotFound
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+` FROM students
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	return scanRecord(row)
}

// RecordAudit appends an audit entry for a pass.
func (r *Repository) RecordAudit(ctx context.Context, passID, userID, event string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pass_audit (pass_id, user_id, event, recorded_at)
		VALUES ($1, $2, $3, $4)
	`, passID, userID, event, at)
	return err
}

func scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var via1, via2, photo sql.NullString
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Name, &rec.Email, &rec.RegNo, &rec.College, &rec.Address,
		&rec.DestinationFrom, &rec.DestinationTo, &via1, &via2, &photo, &rec.QRCode,
		&rec.ApplicationStatus, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	rec.Via1, rec.Via2, rec.PhotoURL = via1.String, via2.String, photo.String
	return rec, nil
}
