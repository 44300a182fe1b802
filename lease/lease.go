// Package lease serializes writers of one repository across processes.
//
// A lease is an object at repoid.ID.LockKey holding the holder's token and
// an expiry. It is created with a conditional put, so exactly one writer
// wins. An expired lease may be taken over with a put conditioned on its
// ETag, which lets a crashed holder's lease lapse without operator action.
// Within one process a per-repository mutex queues writers before they
// touch the store.
package lease

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/repoid"
	"github.com/jmgilman/objgit/storage"
)

const (
	// DefaultTTL is how long a lease stays valid without a refresh.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxWait bounds how long Acquire waits for a held lease.
	DefaultMaxWait = 30 * time.Second

	defaultInitialInterval = 50 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

var errHeld = errors.New(errors.CodeLocked, "lease is held by another writer")

// record is the JSON body of a lease object.
type record struct {
	Owner   string    `json:"owner"`
	Expires time.Time `json:"expires"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL sets the lease lifetime.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithMaxWait sets how long Acquire retries before giving up.
func WithMaxWait(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.maxWait = d
		}
	}
}

// WithInitialInterval sets the first retry delay.
func WithInitialInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.initialInterval = d
		}
	}
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// Manager hands out leases stored in one object store.
type Manager struct {
	store           storage.Store
	ttl             time.Duration
	maxWait         time.Duration
	initialInterval time.Duration
	now             func() time.Time
	logger          *slog.Logger

	mu    sync.Mutex
	local map[string]*localLock
}

// localLock is a context-aware mutex shared by every in-process writer of
// one repository. refs counts holders and waiters so idle entries can be
// dropped from the map.
type localLock struct {
	sem  chan struct{}
	refs int
}

// NewManager returns a Manager over store.
func NewManager(store storage.Store, opts ...Option) *Manager {
	m := &Manager{
		store:           store,
		ttl:             DefaultTTL,
		maxWait:         DefaultMaxWait,
		initialInterval: defaultInitialInterval,
		now:             time.Now,
		logger:          slog.New(slog.DiscardHandler),
		local:           make(map[string]*localLock),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Lease is a held lease. Release it when the write is done.
type Lease struct {
	m     *Manager
	key   string
	token string
	etag  string

	mu       sync.Mutex
	released bool
}

// Key returns the lock object key.
func (l *Lease) Key() string {
	return l.key
}

// Token returns the holder token written into the lock object.
func (l *Lease) Token() string {
	return l.token
}

// Acquire blocks until the lease for id is held, ctx is done, or the
// configured maximum wait passes. A timeout returns REPOSITORY_LOCKED.
func (m *Manager) Acquire(ctx context.Context, id repoid.ID) (*Lease, error) {
	key := id.LockKey()
	log := m.logger.With("repository", id.String(), "lock", key)

	waitCtx, cancel := context.WithTimeout(ctx, m.maxWait)
	defer cancel()

	ll := m.ref(key)
	select {
	case ll.sem <- struct{}{}:
	case <-waitCtx.Done():
		m.unref(key)
		return nil, m.waitError(ctx, id, waitCtx.Err())
	}

	token := uuid.NewString()
	b := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(m.initialInterval),
		backoff.WithMaxInterval(defaultMaxInterval),
		backoff.WithMaxElapsedTime(m.maxWait),
	), waitCtx)

	etag, err := backoff.RetryNotifyWithData(func() (string, error) {
		return m.tryAcquire(waitCtx, key, token)
	}, b, func(err error, next time.Duration) {
		log.Debug("lease busy, retrying", "error", err, "next", next)
	})
	if err != nil {
		<-ll.sem
		m.unref(key)
		if stderrors.Is(err, errHeld) || stderrors.Is(err, context.DeadlineExceeded) {
			return nil, m.waitError(ctx, id, err)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WithContext(errors.Wrap(err, errors.CodeStorage, "failed to acquire lease"), "repository", id.String())
	}

	log.Debug("lease acquired")
	return &Lease{m: m, key: key, token: token, etag: etag}, nil
}

// tryAcquire makes one attempt. errHeld means retry later; permanent
// store failures stop the retry loop.
func (m *Manager) tryAcquire(ctx context.Context, key, token string) (string, error) {
	body, err := m.encode(token)
	if err != nil {
		return "", backoff.Permanent(err)
	}

	info, err := m.store.Put(ctx, key, body, storage.PutOptions{IfNoneMatch: true})
	if err == nil {
		return info.ETag, nil
	}
	if !storage.IsPreconditionFailed(err) {
		return "", retryable(err)
	}

	current, err := m.store.Head(ctx, key)
	if storage.IsNotFound(err) {
		return "", errHeld
	}
	if err != nil {
		return "", retryable(err)
	}

	data, err := m.store.Get(ctx, key)
	if storage.IsNotFound(err) {
		return "", errHeld
	}
	if err != nil {
		return "", retryable(err)
	}

	var held record
	if jsonErr := json.Unmarshal(data, &held); jsonErr == nil && m.now().Before(held.Expires) {
		return "", errHeld
	}

	// Expired or unreadable: take it over, unless someone else already did.
	info, err = m.store.Put(ctx, key, body, storage.PutOptions{IfMatch: current.ETag})
	switch {
	case err == nil:
		m.logger.Warn("took over expired lease", "lock", key, "previous_owner", held.Owner)
		return info.ETag, nil
	case storage.IsPreconditionFailed(err):
		return "", errHeld
	default:
		return "", retryable(err)
	}
}

// Refresh extends the lease by the TTL. It fails with CONFLICT when the
// lease was lost to a takeover.
func (l *Lease) Refresh(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return errors.New(errors.CodeConflict, "lease already released")
	}

	body, err := l.m.encode(l.token)
	if err != nil {
		return err
	}
	info, err := l.m.store.Put(ctx, l.key, body, storage.PutOptions{IfMatch: l.etag})
	if storage.IsPreconditionFailed(err) {
		return errors.WithContext(errors.New(errors.CodeConflict, "lease was lost"), "lock", l.key)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to refresh lease")
	}
	l.etag = info.ETag
	return nil
}

// Release deletes the lock object if this lease still owns it and unblocks
// the next in-process writer. Calling it more than once is harmless.
func (l *Lease) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return nil
	}
	l.released = true

	defer func() {
		if ll := l.m.lookup(l.key); ll != nil {
			<-ll.sem
		}
		l.m.unref(l.key)
	}()

	current, err := l.m.store.Head(ctx, l.key)
	if storage.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to release lease")
	}
	if current.ETag != l.etag {
		l.m.logger.Warn("lease was taken over before release", "lock", l.key)
		return nil
	}

	if err := l.m.store.Delete(ctx, l.key); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to release lease")
	}
	return nil
}

// Do runs fn while holding the lease for id. The lease is refreshed every
// third of its TTL while fn runs. If a refresh finds the lease lost, fn's
// context is cancelled and Do returns CONFLICT.
func (m *Manager) Do(ctx context.Context, id repoid.ID, fn func(context.Context) error) error {
	l, err := m.Acquire(ctx, id)
	if err != nil {
		return err
	}

	fnCtx, cancelFn := context.WithCancelCause(ctx)
	done := make(chan struct{})
	lost := make(chan error, 1)
	go func() {
		defer close(done)
		if err := l.heartbeat(fnCtx, max(m.ttl/3, time.Millisecond)); err != nil {
			lost <- err
			cancelFn(err)
		}
	}()

	fnErr := fn(fnCtx)
	cancelFn(nil)
	<-done

	select {
	case err := <-lost:
		m.logger.Error("lease lost while writing", "lock", l.key, "error", err)
		fnErr = err
	default:
	}

	// Release with a fresh context so a cancelled request still frees the
	// lease.
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := l.Release(releaseCtx); err != nil {
		m.logger.Error("failed to release lease", "lock", l.key, "error", err)
		if fnErr == nil {
			return err
		}
	}
	return fnErr
}

// heartbeat refreshes the lease until ctx is done. It returns the refresh
// error when the lease was lost; transient store failures are logged and
// retried on the next tick.
func (l *Lease) heartbeat(ctx context.Context, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		err := l.Refresh(ctx)
		switch {
		case err == nil:
			l.m.logger.Debug("lease refreshed", "lock", l.key)
		case ctx.Err() != nil:
			return nil
		case errors.HasCode(err, errors.CodeConflict):
			return err
		default:
			l.m.logger.Warn("failed to refresh lease", "lock", l.key, "error", err)
		}
	}
}

func (m *Manager) encode(token string) ([]byte, error) {
	data, err := json.Marshal(record{Owner: token, Expires: m.now().Add(m.ttl).UTC()})
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to encode lease")
	}
	return data, nil
}

func (m *Manager) ref(key string) *localLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	ll, ok := m.local[key]
	if !ok {
		ll = &localLock{sem: make(chan struct{}, 1)}
		m.local[key] = ll
	}
	ll.refs++
	return ll
}

func (m *Manager) lookup(key string) *localLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.local[key]
}

func (m *Manager) unref(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ll, ok := m.local[key]
	if !ok {
		return
	}
	ll.refs--
	if ll.refs <= 0 {
		delete(m.local, key)
	}
}

func (m *Manager) waitError(ctx context.Context, id repoid.ID, cause error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.WithContextMap(
		errors.Wrap(cause, errors.CodeLocked, "repository is locked by another writer"),
		map[string]any{"repository": id.String(), "waited": m.maxWait.String()},
	)
}

// retryable keeps transient store failures in the retry loop and stops it
// for everything else.
func retryable(err error) error {
	if errors.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}
