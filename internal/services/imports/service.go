// Package imports applies bulk-import documents to the platform stores.
package imports

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/cams-platform/cams/internal/domain/imports"
	"github.com/cams-platform/cams/internal/errors"
	"github.com/cams-platform/cams/internal/logging"
	"github.com/cams-platform/cams/internal/metrics"
	"github.com/cams-platform/cams/internal/services/apps"
	"github.com/cams-platform/cams/internal/services/connections"
	"github.com/cams-platform/cams/internal/services/roles"
	"github.com/cams-platform/cams/internal/services/users"
	"github.com/cams-platform/cams/internal/storage"
)

// EventPublisher streams progress events to subscribed clients.
type EventPublisher interface {
	Publish(channel, event string, payload interface{})
}

const (
	// maxPayloadRecords caps the total record count of one document.
	maxPayloadRecords = 10000
	// defaultMaxErrors aborts a run that is clearly broken.
	defaultMaxErrors = 100
)

// Service runs bulk-import jobs. Only one job runs at a time; submitting
// while a job is in flight returns a conflict.
type Service struct {
	store    storage.ImportStore
	appStore storage.ApplicationStore
	roleSvc  *roles.Service
	userSvc  *users.Service
	appSvc   *apps.Service
	connSvc  *connections.Service
	events   EventPublisher
	stats    *metrics.Metrics
	log      *logging.Logger

	mu      sync.Mutex
	running bool

	// jobTimeout bounds one apply run.
	jobTimeout time.Duration
	// maxErrors aborts a run once this many records have failed.
	maxErrors int
}

// Option configures the service.
type Option func(*Service)

// WithEventPublisher streams progress to the given publisher.
func WithEventPublisher(events EventPublisher) Option {
	return func(s *Service) { s.events = events }
}

// WithMetrics records import counters.
func WithMetrics(stats *metrics.Metrics) Option {
	return func(s *Service) { s.stats = stats }
}

// WithJobTimeout bounds how long one job may run.
func WithJobTimeout(d time.Duration) Option {
	return func(s *Service) { s.jobTimeout = d }
}

// WithMaxErrors overrides the record-error cap that aborts a run.
func WithMaxErrors(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxErrors = n
		}
	}
}

// New creates the import service.
func New(store storage.ImportStore, appStore storage.ApplicationStore, roleSvc *roles.Service, userSvc *users.Service, appSvc *apps.Service, connSvc *connections.Service, log *logging.Logger, opts ...Option) *Service {
	if log == nil {
		log = logging.NewDefault("imports")
	}
	s := &Service{
		store:      store,
		appStore:   appStore,
		roleSvc:    roleSvc,
		userSvc:    userSvc,
		appSvc:     appSvc,
		connSvc:    connSvc,
		log:        log,
		jobTimeout: 10 * time.Minute,
		maxErrors:  defaultMaxErrors,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProgressChannel is the realtime channel name for a job's progress events.
func ProgressChannel(jobID string) string { return "import:" + jobID }

// Sniff inspects a raw document without fully decoding it and returns the
// per-section record counts.
func Sniff(raw []byte) (map[string]int, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.Validation("payload is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return nil, errors.Validation("payload must be a JSON object")
	}

	totals := make(map[string]int)
	total := 0
	for _, section := range imports.SectionOrder {
		v := doc.Get(section)
		if !v.Exists() {
			continue
		}
		if !v.IsArray() {
			return nil, errors.Validation("section %q must be an array", section)
		}
		n := int(v.Get("#").Int())
		totals[section] = n
		total += n
	}
	if total == 0 {
		return nil, errors.Validation("payload contains no importable records")
	}
	if total > maxPayloadRecords {
		return nil, errors.Validation("payload has %d records, the limit is %d", total, maxPayloadRecords)
	}
	return totals, nil
}

// Submit validates the document, creates a job record and starts the apply
// run in the background. The returned job is in the running state.
func (s *Service) Submit(ctx context.Context, raw []byte, submittedBy string) (imports.Job, error) {
	totals, err := Sniff(raw)
	if err != nil {
		return imports.Job{}, err
	}

	var payload imports.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return imports.Job{}, errors.Validation("payload does not match the import schema: %v", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return imports.Job{}, errors.Conflict("an import job is already running")
	}
	s.running = true
	s.mu.Unlock()

	job, err := s.store.CreateImportJob(ctx, imports.Job{
		Status:      imports.StatusRunning,
		SubmittedBy: submittedBy,
		Totals:      totals,
		StartedAt:   time.Now().UTC(),
	})
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return imports.Job{}, err
	}

	s.log.WithField("job_id", job.ID).
		WithField("submitted_by", submittedBy).
		Info("import job started")

	go s.run(job, payload)
	return job, nil
}

// Get returns a job by id.
func (s *Service) Get(ctx context.Context, id string) (imports.Job, error) {
	return s.store.GetImportJob(ctx, id)
}

// List returns the most recent jobs.
func (s *Service) List(ctx context.Context, limit int) ([]imports.Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.store.ListImportJobs(ctx, limit)
}

func (s *Service) run(job imports.Job, payload imports.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	aborted := false
	for _, section := range imports.SectionOrder {
		if job.Failed >= s.maxErrors {
			aborted = true
			break
		}
		switch section {
		case imports.SectionRoles:
			s.applyRoles(ctx, &job, payload.Roles)
		case imports.SectionUsers:
			s.applyUsers(ctx, &job, payload.Users)
		case imports.SectionApplications:
			s.applyApplications(ctx, &job, payload.Applications)
		case imports.SectionConnections:
			s.applyConnections(ctx, &job, payload.Connections)
		}
	}

	job.FinishedAt = time.Now().UTC()
	if aborted || (job.Imported == 0 && job.Failed > 0) {
		job.Status = imports.StatusFailed
	} else {
		job.Status = imports.StatusCompleted
	}
	if _, err := s.store.UpdateImportJob(ctx, job); err != nil {
		s.log.WithError(err).WithField("job_id", job.ID).Error("failed to persist import job result")
	}
	if s.stats != nil {
		s.stats.RecordImportJob(string(job.Status))
	}
	s.publish(job, "", 0, 0, true)

	s.log.WithField("job_id", job.ID).
		WithField("imported", job.Imported).
		WithField("failed", job.Failed).
		WithField("status", string(job.Status)).
		Info("import job finished")
}

func (s *Service) applyRoles(ctx context.Context, job *imports.Job, records []imports.RoleRecord) {
	for i, rec := range records {
		if job.Failed >= s.maxErrors {
			return
		}
		_, err := s.roleSvc.Create(ctx, rec.Name, rec.Description, rec.Permissions)
		s.tally(ctx, job, imports.SectionRoles, i, len(records), err)
	}
}

func (s *Service) applyUsers(ctx context.Context, job *imports.Job, records []imports.UserRecord) {
	for i, rec := range records {
		if job.Failed >= s.maxErrors {
			return
		}
		err := s.importUser(ctx, rec)
		s.tally(ctx, job, imports.SectionUsers, i, len(records), err)
	}
}

func (s *Service) importUser(ctx context.Context, rec imports.UserRecord) error {
	roleIDs := make([]string, 0, len(rec.Roles))
	for _, name := range rec.Roles {
		r, err := s.roleSvc.GetByName(ctx, name)
		if err != nil {
			return errors.Validation("role %q not found", name)
		}
		roleIDs = append(roleIDs, r.ID)
	}
	_, err := s.userSvc.Create(ctx, users.CreateParams{
		Username: rec.Username,
		Email:    rec.Email,
		FullName: rec.FullName,
		Password: rec.Password,
		RoleIDs:  roleIDs,
	})
	return err
}

func (s *Service) applyApplications(ctx context.Context, job *imports.Job, records []imports.ApplicationRecord) {
	for i, rec := range records {
		if job.Failed >= s.maxErrors {
			return
		}
		_, err := s.appSvc.Create(ctx, apps.CreateParams{
			Name:         rec.Name,
			Description:  rec.Description,
			Environment:  rec.Environment,
			TestSchedule: rec.TestSchedule,
		})
		s.tally(ctx, job, imports.SectionApplications, i, len(records), err)
	}
}

func (s *Service) applyConnections(ctx context.Context, job *imports.Job, records []imports.ConnectionRecord) {
	for i, rec := range records {
		if job.Failed >= s.maxErrors {
			return
		}
		err := s.importConnection(ctx, rec)
		s.tally(ctx, job, imports.SectionConnections, i, len(records), err)
	}
}

func (s *Service) importConnection(ctx context.Context, rec imports.ConnectionRecord) error {
	name := strings.TrimSpace(rec.Application)
	if name == "" {
		return errors.Validation("application name is required")
	}
	app, err := s.appStore.GetApplicationByName(ctx, name)
	if err != nil {
		return errors.Validation("application %q not found", name)
	}
	_, err = s.connSvc.Create(ctx, connections.CreateParams{
		ApplicationID: app.ID,
		Name:          rec.Name,
		Driver:        rec.Driver,
		Host:          rec.Host,
		Port:          rec.Port,
		DatabaseName:  rec.DatabaseName,
		Username:      rec.Username,
		Password:      rec.Password,
		Options:       rec.Options,
	})
	return err
}

// tally updates counters after one record, records the outcome and streams a
// progress event.
func (s *Service) tally(ctx context.Context, job *imports.Job, section string, index, total int, err error) {
	if err != nil {
		job.Failed++
		job.Errors = append(job.Errors, imports.RecordError{
			Section: section,
			Index:   index,
			Message: errors.AsService(err).Message,
		})
	} else {
		job.Imported++
	}
	if s.stats != nil {
		s.stats.RecordImportRecord(section, err == nil)
	}

	// Persist intermediate state so polling clients see progress too.
	if (index+1)%50 == 0 || index+1 == total {
		if _, uerr := s.store.UpdateImportJob(ctx, *job); uerr != nil {
			s.log.WithError(uerr).WithField("job_id", job.ID).Warn("failed to checkpoint import job")
		}
	}
	s.publish(*job, section, index+1, total, false)
}

func (s *Service) publish(job imports.Job, section string, processed, total int, done bool) {
	if s.events == nil {
		return
	}
	s.events.Publish(ProgressChannel(job.ID), "import.progress", imports.Progress{
		JobID:     job.ID,
		Section:   section,
		Processed: processed,
		Total:     total,
		Imported:  job.Imported,
		Failed:    job.Failed,
		Done:      done,
	})
}
