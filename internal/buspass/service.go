package buspass

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"studx/internal/auth"
	"studx/internal/metrics"
	"studx/internal/objectstore"
)

// photoCacheControl matches the max-age photos were always uploaded with.
const photoCacheControl = "3600"

// Notifier is told about every issued pass. Failures never fail a submission.
type Notifier interface {
	PassIssued(ctx context.Context, passID, userID string) error
}

// SubmitterConfig configures a Submitter.
type SubmitterConfig struct {
	Bucket        string
	UploadTimeout time.Duration
	StoreTimeout  time.Duration
	Notifier      Notifier
	Clock         func() time.Time
}

// Submitter turns a completed draft into a stored record:
// upload photo, build QR payload, insert record.
type Submitter struct {
	store   Store
	objects objectstore.Store
	cfg     SubmitterConfig
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewSubmitter wires the submission sequence to its collaborators.
func NewSubmitter(store Store, objects objectstore.Store, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	if cfg.Bucket == "" {
		cfg.Bucket = "student-photos"
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Submitter{
		store:    store,
		objects:  objects,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "submitter")),
		inFlight: make(map[string]struct{}),
	}
}

// InProgress reports whether a submission for userID is running.
func (s *Submitter) InProgress(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[userID]
	return ok
}

// Submit runs the submission. Steps run strictly in order and nothing is
// retried. A photo uploaded before a failed insert stays in storage.
func (s *Submitter) Submit(ctx context.Context, id *auth.Identity, d *Draft) (Record, error) {
	if id == nil {
		metrics.Submissions.WithLabelValues("unauthenticated").Inc()
		return Record{}, auth.ErrNotAuthenticated
	}
	if err := d.Validate(); err != nil {
		metrics.Submissions.WithLabelValues("invalid").Inc()
		return Record{}, err
	}
	if !s.begin(id.ID) {
		metrics.Submissions.WithLabelValues("busy").Inc()
		return Record{}, ErrSubmissionInProgress
	}
	defer s.end(id.ID)

	now := s.cfg.Clock()
	logger := s.logger.With(slog.String("user_id", id.ID))

	var photoURL string
	if photo := d.Photo(); photo != nil {
		name := objectstore.ObjectName(now, photo.Ext())
		if err := s.upload(ctx, name, photo); err != nil {
			logger.Error("photo upload failed", slog.String("object", name), slog.String("error", err.Error()))
			metrics.Submissions.WithLabelValues("upload_failed").Inc()
			return Record{}, &StepError{Step: StepUpload, Err: err}
		}
		photoURL = s.objects.PublicURL(s.cfg.Bucket, name)
	}

	payload, err := NewQRPayload(id, d, now).Encode()
	if err != nil {
		return Record{}, &StepError{Step: StepQRPayload, Err: err}
	}

	rec, err := s.insert(ctx, d.record(id, photoURL, payload))
	if err != nil {
		logger.Error("record insert failed", slog.String("photo_url", photoURL), slog.String("error", err.Error()))
		metrics.Submissions.WithLabelValues("insert_failed").Inc()
		return Record{}, &StepError{Step: StepInsert, Err: err}
	}

	metrics.Submissions.WithLabelValues("ok").Inc()
	logger.Info("pass issued", slog.String("pass_id", rec.ID))
	if s.cfg.Notifier != nil {
		if err := s.cfg.Notifier.PassIssued(ctx, rec.ID, rec.UserID); err != nil {
			logger.Warn("issuance notification failed", slog.String("pass_id", rec.ID), slog.String("error", err.Error()))
		}
	}
	return rec, nil
}

func (s *Submitter) upload(ctx context.Context, name string, photo *StagedPhoto) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.UploadTimeout)
	defer cancel()
	start := time.Now()
	defer func() { metrics.StepDuration.WithLabelValues(string(StepUpload)).Observe(time.Since(start).Seconds()) }()

	return s.objects.Upload(ctx, s.cfg.Bucket, name, photo.Data, objectstore.UploadOptions{
		Overwrite:    false,
		CacheControl: photoCacheControl,
		ContentType:  photo.ContentType,
	})
}

func (s *Submitter) insert(ctx context.Context, rec Record) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	start := time.Now()
	defer func() { metrics.StepDuration.WithLabelValues(string(StepInsert)).Observe(time.Since(start).Seconds()) }()

	saved, err := s.store.Insert(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if saved.ID == "" {
		return Record{}, errors.New("store returned no record id")
	}
	return saved, nil
}

func (s *Submitter) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[userID]; busy {
		return false
	}
	s.inFlight[userID] = struct{}{}
	return true
}

func (s *Submitter) end(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}
