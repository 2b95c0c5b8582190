package jobstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/panelcheck/internal/domain"
)

// MemoryStore implements Store in process memory. Claim transactions are
// serialized by a mutex, which gives the same single-flight guarantee the
// Postgres advisory lock gives across processes.
type MemoryStore struct {
	claimMu sync.Mutex

	mu     sync.Mutex
	jobs   map[int64]*domain.Job
	nextID int64
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock used for createdAt and updatedAt.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		jobs: make(map[int64]*domain.Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert stores a new pending job.
func (s *MemoryStore) Insert(ctx context.Context, job *domain.Job) (int64, error) {
	if err := validateNewJob(job); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.Status.IsActive() && sameTarget(existing.Target, job.Target) {
			return 0, ErrActiveJobExists
		}
	}

	s.nextID++
	stored := job.Clone()
	stored.ID = s.nextID
	stored.Status = domain.JobStatusPending
	stored.StartedAt = nil
	stored.CompletedAt = nil
	stored.PendingNotificationSent = false
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[stored.ID] = stored

	job.ID = stored.ID
	job.Status = stored.Status
	job.CreatedAt = stored.CreatedAt
	job.UpdatedAt = stored.UpdatedAt
	return stored.ID, nil
}

// Get returns a copy of the job with the given id.
func (s *MemoryStore) Get(ctx context.Context, id int64) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// FindRunning returns the running job or nil.
func (s *MemoryStore) FindRunning(ctx context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		if job.Status == domain.JobStatusRunning {
			return job.Clone(), nil
		}
	}
	return nil, nil
}

// FindOldestPending returns the FIFO head of the queue or nil.
func (s *MemoryStore) FindOldestPending(ctx context.Context) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.filterLocked(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusPending
	}, byCreatedAt)
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

// FindActiveByTarget returns the newest pending or running job for target.
func (s *MemoryStore) FindActiveByTarget(ctx context.Context, target domain.Target) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.filterLocked(func(j *domain.Job) bool {
		return j.Status.IsActive() && sameTarget(j.Target, target)
	}, byCreatedAt)
	if len(active) == 0 {
		return nil, nil
	}
	return active[len(active)-1], nil
}

// FindStaleRunning returns running jobs last updated before cutoff.
func (s *MemoryStore) FindStaleRunning(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filterLocked(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusRunning && j.UpdatedAt.Before(cutoff)
	}, byUpdatedAt), nil
}

// FindStalePendingUnnotified returns old pending jobs not yet alerted on.
func (s *MemoryStore) FindStalePendingUnnotified(ctx context.Context, cutoff time.Time) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filterLocked(func(j *domain.Job) bool {
		return j.Status == domain.JobStatusPending && !j.PendingNotificationSent && j.CreatedAt.Before(cutoff)
	}, byCreatedAt), nil
}

// MarkPendingNotified flags the listed pending jobs.
func (s *MemoryStore) MarkPendingNotified(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	flagged := 0
	for _, id := range ids {
		job, ok := s.jobs[id]
		if !ok || job.Status != domain.JobStatusPending || job.PendingNotificationSent {
			continue
		}
		job.PendingNotificationSent = true
		flagged++
	}
	return flagged, nil
}

// CountByStatus returns job counts per status.
func (s *MemoryStore) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := emptyCounts()
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// Transition performs the conditional status update.
func (s *MemoryStore) Transition(ctx context.Context, id int64, expected, next domain.JobStatus, fields domain.TransitionFields) (bool, error) {
	if err := checkTransition(expected, next); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != expected {
		return false, nil
	}
	if next == domain.JobStatusRunning {
		for otherID, other := range s.jobs {
			if otherID != id && other.Status == domain.JobStatusRunning {
				return false, nil
			}
		}
	}

	job.Status = next
	fields.Apply(job)
	job.UpdatedAt = s.now()
	return true, nil
}

// InClaimTx serializes fn against other claim transactions. MemoryStore has
// no rollback, so fn must not write before deciding to abort.
func (s *MemoryStore) InClaimTx(ctx context.Context, fn func(tx Tx) error) error {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

// SetUpdatedAt overrides a job's updatedAt. Tests use it to age jobs.
func (s *MemoryStore) SetUpdatedAt(id int64, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job, ok := s.jobs[id]; ok {
		job.UpdatedAt = t
	}
}

func (s *MemoryStore) filterLocked(keep func(*domain.Job) bool, less func(a, b *domain.Job) bool) []*domain.Job {
	var out []*domain.Job
	for _, job := range s.jobs {
		if keep(job) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func byCreatedAt(a, b *domain.Job) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func byUpdatedAt(a, b *domain.Job) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return a.ID < b.ID
}

func sameTarget(a, b domain.Target) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Source() == b.Source() && a.Ref() == b.Ref()
}

var _ Store = (*MemoryStore)(nil)
