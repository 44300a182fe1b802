package git

import (
	"context"
	"log/slog"

	"github.com/go-git/go-billy/v5"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"

	"github.com/jmgilman/objgit/errors"
	"github.com/jmgilman/objgit/repoid"
	"github.com/jmgilman/objgit/storage"
	"github.com/jmgilman/objgit/vfs"
)

// Layout of a freshly created bare repository.
const (
	DefaultBranch = "main"

	InitialHead        = "ref: refs/heads/" + DefaultBranch + "\n"
	InitialConfig      = "[core]\n\trepositoryformatversion = 0\n\tfilemode = true\n\tbare = true\n"
	InitialDescription = "Unnamed repository; edit this file to name the repository.\n"
)

// Option configures Open and NewReader.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	vfsOpts []vfs.Option
}

// WithLogger sets the logger used for expected misses and store failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithVFSOptions passes options through to the virtual filesystem.
func WithVFSOptions(opts ...vfs.Option) Option {
	return func(o *options) {
		o.vfsOpts = append(o.vfsOpts, opts...)
	}
}

func newOptions(opts []Option) *options {
	o := &options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Repository is an open handle on a stored bare repository.
type Repository struct {
	id     repoid.ID
	fs     *vfs.FS
	storer *filesystem.Storage
	repo   *gogit.Repository
}

// Open opens the repository identified by id. A repository without HEAD
// yields a NOT_FOUND error.
func Open(ctx context.Context, store storage.Store, id repoid.ID, opts ...Option) (*Repository, error) {
	o := newOptions(opts)
	return open(ctx, store, id, o, nil)
}

func open(ctx context.Context, store storage.Store, id repoid.ID, o *options, worktree billy.Filesystem) (*Repository, error) {
	if id.IsZero() {
		return nil, errors.New(errors.CodeInvalidInput, "repository id is required")
	}

	fsys, err := vfs.New(ctx, store, id.Prefix(), append([]vfs.Option{vfs.WithLogger(o.logger)}, o.vfsOpts...)...)
	if err != nil {
		return nil, err
	}

	st := filesystem.NewStorageWithOptions(fsys, cache.NewObjectLRUDefault(), filesystem.Options{
		KeepDescriptors: true,
		ExclusiveAccess: true,
	})
	repo, err := gogit.Open(st, worktree)
	if err != nil {
		_ = st.Close()
		return nil, errors.WithContext(wrapError(err, "failed to open repository"), "repository", id.String())
	}

	return &Repository{id: id, fs: fsys, storer: st, repo: repo}, nil
}

// OpenWithWorktree opens the repository with a separate worktree
// filesystem, so go-git's worktree operations can commit into the store.
// It exists for fixtures and tooling; the hosting paths never need it.
func OpenWithWorktree(ctx context.Context, store storage.Store, id repoid.ID, worktree billy.Filesystem, opts ...Option) (*Repository, error) {
	return open(ctx, store, id, newOptions(opts), worktree)
}

// ID returns the repository identity.
func (r *Repository) ID() repoid.ID {
	return r.id
}

// Filesystem returns the virtual filesystem the repository is read through.
func (r *Repository) Filesystem() *vfs.FS {
	return r.fs
}

// Underlying returns the go-git repository for operations this package
// does not wrap.
func (r *Repository) Underlying() *gogit.Repository {
	return r.repo
}

// Close releases pack files held open by go-git.
func (r *Repository) Close() error {
	if err := r.storer.Close(); err != nil {
		return wrapError(err, "failed to close repository")
	}
	return nil
}

// Create writes the initial bare layout for id. HEAD is written last and
// only if absent, so a concurrent Create of the same repository fails with
// ALREADY_EXISTS instead of clobbering it.
func Create(ctx context.Context, store storage.Store, id repoid.ID) error {
	if id.IsZero() {
		return errors.New(errors.CodeInvalidInput, "repository id is required")
	}

	prefix := id.Prefix()
	exists, err := storage.Exists(ctx, store, prefix+"HEAD")
	if err != nil {
		return errors.Wrap(err, errors.CodeStorage, "failed to check for existing repository")
	}
	if exists {
		return alreadyExists(id)
	}

	for _, f := range []struct{ name, data string }{
		{"config", InitialConfig},
		{"description", InitialDescription},
	} {
		if _, err := store.Put(ctx, prefix+f.name, []byte(f.data), storage.PutOptions{}); err != nil {
			return errors.Wrapf(err, errors.CodeStorage, "failed to write %s", f.name)
		}
	}

	_, err = store.Put(ctx, prefix+"HEAD", []byte(InitialHead), storage.PutOptions{IfNoneMatch: true})
	switch {
	case storage.IsPreconditionFailed(err):
		return alreadyExists(id)
	case err != nil:
		return errors.Wrap(err, errors.CodeStorage, "failed to write HEAD")
	}
	return nil
}

// Delete removes every object stored for id and returns how many were
// removed. Deleting a missing repository is not an error.
func Delete(ctx context.Context, store storage.Store, id repoid.ID) (int, error) {
	if id.IsZero() {
		return 0, errors.New(errors.CodeInvalidInput, "repository id is required")
	}
	n, err := storage.DeletePrefix(ctx, store, id.Prefix())
	if err != nil {
		return n, errors.WithContext(errors.Wrap(err, errors.CodeStorage, "failed to delete repository"), "repository", id.String())
	}
	return n, nil
}

// Exists reports whether id has a HEAD.
func Exists(ctx context.Context, store storage.Store, id repoid.ID) (bool, error) {
	ok, err := storage.Exists(ctx, store, id.Prefix()+"HEAD")
	if err != nil {
		return false, errors.Wrap(err, errors.CodeStorage, "failed to check repository")
	}
	return ok, nil
}

func alreadyExists(id repoid.ID) error {
	return errors.WithContext(
		errors.New(errors.CodeAlreadyExists, "repository already exists"),
		"repository", id.String(),
	)
}
