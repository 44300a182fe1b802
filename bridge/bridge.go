// Package bridge materializes a stored repository into a scratch directory
// so native git can operate on it, then writes changes back.
//
// Native git needs a real directory. The bridge pulls every object under
// the repository prefix, runs the caller's body against the directory and,
// for writes, uploads what changed. Files are fingerprinted with BLAKE3
// when pulled, so sync-back only uploads new or modified files and deletes
// keys whose files were removed. The scratch directory is removed on every
// exit path.
package bridge

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/lease"
	"github.com/jmgilman/objgit/repoid"
	"github.com/jmgilman/objgit/storage"
)

// DefaultConcurrency bounds parallel store calls per materialization.
const DefaultConcurrency = 16

// ErrSkipSync is returned by a body that produced a result but whose
// changes must not be written back, such as a failed receive-pack. The
// bridge returns the body's result with a nil error.
var ErrSkipSync = stderrors.New("skip sync-back")

// Directories git requires in a bare repository. Object stores have no
// empty directories, so they are recreated after every pull.
var skeleton = []string{"objects/info", "objects/pack", "refs/heads", "refs/tags"}

type digest [32]byte

// Option configures a Bridge.
type Option func(*Bridge)

// WithLeases serializes write materializations through m.
func WithLeases(m *lease.Manager) Option {
	return func(b *Bridge) {
		b.leases = m
	}
}

// WithScratchRoot sets the parent of scratch directories. The default is
// os.TempDir.
func WithScratchRoot(dir string) Option {
	return func(b *Bridge) {
		b.scratchRoot = dir
	}
}

// WithConcurrency bounds parallel transfers.
func WithConcurrency(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// Bridge moves repositories between the object store and local scratch
// directories.
type Bridge struct {
	store       storage.Store
	leases      *lease.Manager
	scratchRoot string
	concurrency int
	logger      *slog.Logger
}

// New returns a Bridge over store.
func New(store storage.Store, opts ...Option) *Bridge {
	b := &Bridge{
		store:       store,
		concurrency: DefaultConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Body operates on a materialized repository rooted at dir.
type Body[R any] func(ctx context.Context, dir string) (R, error)

// WithMaterializedRepo runs body against a scratch copy of id.
//
// When syncBack is set, the repository lease is held for the whole call
// and changes are uploaded after body returns nil. A body error skips the
// upload and is returned as is, except ErrSkipSync which only skips it.
// A failed pull returns a TRANSPORT_FAILED error without running body.
//
// Example:
//
//	out, err := bridge.WithMaterializedRepo(ctx, b, id, false,
//	    func(ctx context.Context, dir string) ([]byte, error) {
//	        return os.ReadFile(filepath.Join(dir, "HEAD"))
//	    })
func WithMaterializedRepo[R any](ctx context.Context, b *Bridge, id repoid.ID, syncBack bool, body Body[R]) (R, error) {
	var result R
	run := func(ctx context.Context) error {
		return b.materialize(ctx, id, syncBack, func(ctx context.Context, dir string) error {
			var err error
			result, err = body(ctx, dir)
			return err
		})
	}

	if syncBack && b.leases != nil {
		err := b.leases.Do(ctx, id, run)
		return result, err
	}
	return result, run(ctx)
}

// Run is WithMaterializedRepo for bodies without a result.
func (b *Bridge) Run(ctx context.Context, id repoid.ID, syncBack bool, body func(ctx context.Context, dir string) error) error {
	_, err := WithMaterializedRepo(ctx, b, id, syncBack, func(ctx context.Context, dir string) (struct{}, error) {
		return struct{}{}, body(ctx, dir)
	})
	return err
}

func (b *Bridge) materialize(ctx context.Context, id repoid.ID, syncBack bool, body func(context.Context, string) error) error {
	log := b.logger.With("repository", id.String(), "sync_back", syncBack)

	dir, err := os.MkdirTemp(b.scratchRoot, "objgit-")
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to create scratch directory")
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Error("failed to remove scratch directory", "dir", dir, "error", rmErr)
		}
	}()

	local := osfs.New(dir, osfs.WithBoundOS())
	pulled, err := b.pull(ctx, id, local)
	if err != nil {
		return errors.WithContext(errors.Wrap(err, errors.CodeTransport, "failed to materialize repository"), "repository", id.String())
	}
	log.Debug("repository materialized", "dir", dir, "files", len(pulled))

	if err := body(ctx, dir); err != nil {
		if stderrors.Is(err, ErrSkipSync) {
			log.Info("skipping sync-back")
			return nil
		}
		return err
	}

	if !syncBack {
		return nil
	}

	stats, err := b.push(ctx, id, local, pulled)
	if err != nil {
		return errors.WithContext(errors.Wrap(err, errors.CodeTransport, "failed to sync repository back"), "repository", id.String())
	}
	log.Info("repository synced", "uploaded", stats.uploaded, "deleted", stats.deleted, "unchanged", stats.unchanged)
	return nil
}

// pull downloads every key under the prefix of id into local and returns
// the digest of each file by relative path.
func (b *Bridge) pull(ctx context.Context, id repoid.ID, local billy.Filesystem) (map[string]digest, error) {
	prefix := id.Prefix()
	objects, err := storage.ListAll(ctx, b.store, prefix)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	pulled := make(map[string]digest, len(objects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for _, obj := range objects {
		rel, ok := relPath(prefix, obj.Key)
		if !ok {
			continue
		}
		g.Go(func() error {
			data, err := b.store.Get(gctx, obj.Key)
			if err != nil {
				return err
			}
			if err := util.WriteFile(local, rel, data, 0o644); err != nil {
				return errors.Wrapf(err, errors.CodeInternal, "failed to write %s", rel)
			}
			mu.Lock()
			pulled[rel] = blake3.Sum256(data)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, d := range skeleton {
		if err := local.MkdirAll(d, 0o755); err != nil {
			return nil, errors.Wrapf(err, errors.CodeInternal, "failed to create %s", d)
		}
	}
	return pulled, nil
}

type pushStats struct {
	uploaded  int
	deleted   int
	unchanged int
}

// push uploads new and modified files, then deletes keys whose files are
// gone. Uploads run in phases so a concurrent reader never sees a name for
// data that is not stored yet: loose objects and packs first, then pack
// indexes and objects/info, then refs and everything else.
func (b *Bridge) push(ctx context.Context, id repoid.ID, local billy.Filesystem, pulled map[string]digest) (pushStats, error) {
	var stats pushStats
	prefix := id.Prefix()

	var phases [3][]string
	seen := make(map[string]bool)
	// The scratch filesystem is bound to its base dir, where "/" is outside.
	err := util.Walk(local, ".", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if rel == "" || rel == "." || strings.HasSuffix(rel, ".lock") {
			return nil
		}
		seen[rel] = true
		phase := uploadPhase(rel)
		phases[phase] = append(phases[phase], rel)
		return nil
	})
	if err != nil {
		return stats, errors.Wrap(err, errors.CodeInternal, "failed to walk scratch directory")
	}

	var mu sync.Mutex
	upload := func(files []string) error {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(b.concurrency)
		for _, rel := range files {
			g.Go(func() error {
				data, err := util.ReadFile(local, rel)
				if err != nil {
					return errors.Wrapf(err, errors.CodeInternal, "failed to read %s", rel)
				}
				if old, ok := pulled[rel]; ok && old == blake3.Sum256(data) {
					mu.Lock()
					stats.unchanged++
					mu.Unlock()
					return nil
				}
				if _, err := b.store.Put(gctx, prefix+rel, data, storage.PutOptions{}); err != nil {
					return err
				}
				mu.Lock()
				stats.uploaded++
				mu.Unlock()
				return nil
			})
		}
		return g.Wait()
	}

	for _, files := range phases {
		if err := upload(files); err != nil {
			return stats, err
		}
	}

	var stale []string
	for rel := range pulled {
		if !seen[rel] {
			stale = append(stale, prefix+rel)
		}
	}
	for start := 0; start < len(stale); start += storage.DefaultPageSize {
		end := min(start+storage.DefaultPageSize, len(stale))
		if err := b.store.DeleteKeys(ctx, stale[start:end]); err != nil {
			return stats, err
		}
	}
	stats.deleted = len(stale)
	return stats, nil
}

// uploadPhase orders a file for sync-back. An index is only useful once
// its pack exists, and a ref once its objects exist.
func uploadPhase(rel string) int {
	switch {
	case strings.HasPrefix(rel, "objects/info/"), strings.HasPrefix(rel, "objects/pack/") && strings.HasSuffix(rel, ".idx"):
		return 1
	case strings.HasPrefix(rel, "objects/"):
		return 0
	default:
		return 2
	}
}

// relPath returns key relative to prefix, rejecting directory markers and
// anything that would resolve outside the scratch directory.
func relPath(prefix, key string) (string, bool) {
	rel, ok := strings.CutPrefix(key, prefix)
	if !ok || rel == "" || strings.HasSuffix(rel, "/") {
		return "", false
	}
	clean := path.Clean("/" + rel)[1:]
	if clean == "" || clean != rel {
		return "", false
	}
	return rel, true
}
