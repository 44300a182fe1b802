package storage

import (
	"context"
	"encoding/hex"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/jmgilman/objgit/errors"
)

// FaultFunc lets tests inject failures. It is called with the operation name
// ("get", "head", "put", "copy", "delete", "list") and key; a non-nil result
// is returned instead of performing the call.
type FaultFunc func(op, key string) error

type memObject struct {
	data     []byte
	etag     string
	modified time.Time
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
	fault   FaultFunc
	now     func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

// SetFault installs or clears (nil) a fault injector.
func (m *Memory) SetFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

// Keys returns every stored key in lexical order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) check(ctx context.Context, op, key string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.CodeStorage, "context done")
	}
	if m.fault != nil {
		return m.fault(op, key)
	}
	return nil
}

// Get implements Store.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "get", key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, NotFound(key)
	}
	return slices.Clone(obj.data), nil
}

// GetRange implements Store.
func (m *Memory) GetRange(ctx context.Context, key string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "get", key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, NotFound(key)
	}
	size := int64(len(obj.data))
	if offset < 0 || length < 0 {
		return nil, errors.Newf(errors.CodeInvalidInput, "invalid range %d+%d", offset, length)
	}
	if offset >= size {
		return []byte{}, nil
	}
	end := min(offset+length, size)
	return slices.Clone(obj.data[offset:end]), nil
}

// Head implements Store.
func (m *Memory) Head(ctx context.Context, key string) (ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "head", key); err != nil {
		return ObjectInfo{}, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, NotFound(key)
	}
	return info(key, obj), nil
}

// Put implements Store.
func (m *Memory) Put(ctx context.Context, key string, data []byte, opts PutOptions) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "put", key); err != nil {
		return ObjectInfo{}, err
	}

	current, exists := m.objects[key]
	if opts.IfNoneMatch && exists {
		return ObjectInfo{}, PreconditionFailed(key)
	}
	if opts.IfMatch != "" && (!exists || current.etag != opts.IfMatch) {
		return ObjectInfo{}, PreconditionFailed(key)
	}

	sum := blake3.Sum256(data)
	obj := memObject{
		data:     slices.Clone(data),
		etag:     hex.EncodeToString(sum[:16]),
		modified: m.now(),
	}
	m.objects[key] = obj
	return info(key, obj), nil
}

// Copy implements Store.
func (m *Memory) Copy(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "copy", src); err != nil {
		return err
	}
	obj, ok := m.objects[src]
	if !ok {
		return NotFound(src)
	}
	obj.modified = m.now()
	m.objects[dst] = obj
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(ctx, "delete", key); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

// DeleteKeys implements Store.
func (m *Memory) DeleteKeys(ctx context.Context, keys []string) error {
	if len(keys) > DefaultPageSize {
		return errors.Newf(errors.CodeInvalidInput, "batch of %d keys exceeds %d", len(keys), DefaultPageSize)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if err := m.check(ctx, "delete", key); err != nil {
			return err
		}
	}
	for _, key := range keys {
		delete(m.objects, key)
	}
	return nil
}

// List implements Store.
func (m *Memory) List(ctx context.Context, prefix string, opts ListOptions) (ListPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.check(ctx, "list", prefix); err != nil {
		return ListPage{}, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}

	keys := make([]string, 0)
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) && k > opts.Cursor {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var page ListPage
	seen := make(map[string]bool)
	count := 0
	for _, k := range keys {
		entry := k
		isPrefix := false
		if opts.Delimited {
			if i := strings.Index(k[len(prefix):], "/"); i >= 0 {
				entry = k[:len(prefix)+i+1]
				isPrefix = true
			}
		}
		if isPrefix && seen[entry] {
			continue
		}
		// Cursor already past this common prefix.
		if isPrefix && entry <= opts.Cursor {
			continue
		}

		if count == limit {
			page.NextCursor = lastKey(page)
			return page, nil
		}
		count++

		if isPrefix {
			seen[entry] = true
			page.CommonPrefixes = append(page.CommonPrefixes, entry)
			continue
		}
		page.Objects = append(page.Objects, info(k, m.objects[k]))
	}
	return page, nil
}

// lastKey returns the cursor that resumes after everything in page. A
// common prefix cursor ends in "/", and "/" followed by the max rune sorts
// after every key under it.
func lastKey(page ListPage) string {
	last := ""
	if n := len(page.Objects); n > 0 {
		last = page.Objects[n-1].Key
	}
	if n := len(page.CommonPrefixes); n > 0 {
		if p := page.CommonPrefixes[n-1] + "\uffff"; p > last {
			last = p
		}
	}
	return last
}

func info(key string, obj memObject) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		LastModified: obj.modified,
	}
}

var _ Store = (*Memory)(nil)
