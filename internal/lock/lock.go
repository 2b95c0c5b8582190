// Package lock provides mutual exclusion between processes that share an
// object store.
//
// A lock on resource R is the marker object "R.lock". Holding the marker
// means some process is working on R; its absence means nobody is. Each
// Locker also keeps the set of resources it holds, so repeated attempts from
// the same process skip the store round trip.
//
// In the default mode acquisition checks for the marker and then writes it.
// Two processes can both observe the marker missing and both proceed. Strict
// mode replaces the check and write with one conditional create.
package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/DukeRupert/panelcheck/internal/metrics"
	"github.com/DukeRupert/panelcheck/internal/storage"
	"github.com/google/uuid"
)

// ErrNotAcquired is returned by WithLock when the resource is held elsewhere.
var ErrNotAcquired = errors.New("lock held by another owner")

// Marker is the JSON body of a lock marker object. It exists so an operator
// can tell who left a marker behind.
type Marker struct {
	Owner      string    `json:"owner"`
	Host       string    `json:"host"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Config configures a Locker.
type Config struct {
	// Strict acquires with an atomic create-if-absent.
	Strict bool
}

// Locker acquires and releases marker locks.
type Locker struct {
	store  storage.Storage
	strict bool
	owner  string
	host   string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	held map[string]struct{}
}

// New creates a Locker with a fresh owner id.
func New(store storage.Storage, cfg Config, logger *slog.Logger) *Locker {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Locker{
		store:  store,
		strict: cfg.Strict,
		owner:  uuid.NewString(),
		host:   host,
		logger: logger,
		now:    time.Now,
		held:   make(map[string]struct{}),
	}
}

// Owner returns the id written into this Locker's markers.
func (l *Locker) Owner() string {
	return l.owner
}

// TryAcquire attempts to take the lock on resource. It returns false, without
// error, when the resource is already held by this process or by another.
func (l *Locker) TryAcquire(ctx context.Context, resource string) (bool, error) {
	l.mu.Lock()
	if _, ok := l.held[resource]; ok {
		l.mu.Unlock()
		metrics.LockAttempt("contended")
		return false, nil
	}
	l.held[resource] = struct{}{}
	l.mu.Unlock()

	acquired, err := l.acquireMarker(ctx, resource)
	if err != nil || !acquired {
		l.forget(resource)
	}
	if err != nil {
		metrics.LockAttempt("error")
		return false, fmt.Errorf("acquire lock %s: %w", resource, err)
	}
	if acquired {
		metrics.LockAttempt("acquired")
	} else {
		metrics.LockAttempt("contended")
	}

	l.logger.Debug("lock attempt", "resource", resource, "acquired", acquired, "strict", l.strict)
	return acquired, nil
}

// Release deletes the marker for resource. The in-process entry is dropped
// even when the delete fails.
func (l *Locker) Release(ctx context.Context, resource string) error {
	defer l.forget(resource)

	if err := l.store.Delete(ctx, storage.LockMarkerKey(resource)); err != nil {
		return fmt.Errorf("release lock %s: %w", resource, err)
	}
	return nil
}

// WithLock runs fn while holding the lock on resource and releases it when fn
// returns, whatever the outcome. It returns ErrNotAcquired without calling fn
// if the lock is taken.
func (l *Locker) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) (err error) {
	acquired, err := l.TryAcquire(ctx, resource)
	if err != nil {
		return err
	}
	if !acquired {
		return ErrNotAcquired
	}

	defer func() {
		// Release even if ctx was cancelled while fn ran.
		if relErr := l.Release(context.WithoutCancel(ctx), resource); relErr != nil {
			l.logger.Error("failed to release lock", "resource", resource, "error", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()

	return fn(ctx)
}

// Held reports whether this process currently holds resource.
func (l *Locker) Held(resource string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[resource]
	return ok
}

func (l *Locker) acquireMarker(ctx context.Context, resource string) (bool, error) {
	key := storage.LockMarkerKey(resource)

	body, err := json.Marshal(Marker{Owner: l.owner, Host: l.host, AcquiredAt: l.now().UTC()})
	if err != nil {
		return false, err
	}

	if !l.strict {
		exists, err := l.store.Exists(ctx, key)
		if err != nil {
			return false, err
		}
		if exists {
			return false, nil
		}
	}

	err = l.store.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		ContentType: "application/json",
		Overwrite:   !l.strict,
		IfAbsent:    l.strict,
	})
	if storage.IsKeyExists(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Locker) forget(resource string) {
	l.mu.Lock()
	delete(l.held, resource)
	l.mu.Unlock()
}
