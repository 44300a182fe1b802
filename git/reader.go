package git

import (
	"context"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"golang.org/x/text/collate"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"

	"github.com/jmgilman/objgit/repoid"
	"github.com/jmgilman/objgit/storage"
)

// DefaultLogLimit bounds Log when the caller passes a non-positive limit.
const DefaultLogLimit = 50

// Reader answers tree, blob, branch and history queries straight from the
// object store.
type Reader struct {
	store storage.Store
	opts  *options
}

// NewReader returns a Reader over store.
func NewReader(store storage.Store, opts ...Option) *Reader {
	return &Reader{store: store, opts: newOptions(opts)}
}

func (r *Reader) logger() *slog.Logger {
	return r.opts.logger
}

// ListDirectory lists the immediate children of dirPath on branch.
//
// An unknown repository or branch, or a branch without commits, yields an
// empty listing with IsEmpty set. A missing directory, or a path naming a
// file, yields an empty listing with IsEmpty unset. Trees sort before
// blobs and names compare in locale order.
func (r *Reader) ListDirectory(ctx context.Context, id repoid.ID, branch, dirPath string) (Listing, error) {
	log := r.logger().With("repository", id.String(), "branch", branch, "path", dirPath)

	repo, err := open(ctx, r.store, id, r.opts, nil)
	if err != nil {
		return missOr(r, log, emptyListing(true), err)
	}
	defer repo.Close()

	tree, err := repo.branchTree(branch)
	if err != nil {
		return missOr(r, log, emptyListing(true), err)
	}

	tree, err = repo.descend(tree, splitPath(dirPath))
	if err != nil {
		return missOr(r, log, emptyListing(false), err)
	}
	if tree == nil {
		log.Debug("directory not found")
		return emptyListing(false), nil
	}

	base := strings.Join(splitPath(dirPath), "/")
	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		typ, ok := entryType(e.Mode)
		if !ok {
			continue
		}
		p := e.Name
		if base != "" {
			p = base + "/" + e.Name
		}
		entries = append(entries, TreeEntry{Name: e.Name, Type: typ, OID: e.Hash.String(), Path: p})
	}
	sortEntries(entries)

	return Listing{Entries: entries, IsEmpty: false}, nil
}

// ReadFile returns the blob at filePath on branch, or nil when there is no
// such file. Invalid UTF-8 is replaced with U+FFFD.
func (r *Reader) ReadFile(ctx context.Context, id repoid.ID, branch, filePath string) (*File, error) {
	log := r.logger().With("repository", id.String(), "branch", branch, "path", filePath)

	segments := splitPath(filePath)
	if len(segments) == 0 {
		return nil, nil
	}

	repo, err := open(ctx, r.store, id, r.opts, nil)
	if err != nil {
		return missOr(r, log, (*File)(nil), err)
	}
	defer repo.Close()

	tree, err := repo.branchTree(branch)
	if err != nil {
		return missOr(r, log, (*File)(nil), err)
	}

	parent, err := repo.descend(tree, segments[:len(segments)-1])
	if err != nil {
		return missOr(r, log, (*File)(nil), err)
	}
	if parent == nil {
		log.Debug("file not found")
		return nil, nil
	}

	entry := findEntry(parent, segments[len(segments)-1])
	if entry == nil {
		log.Debug("file not found")
		return nil, nil
	}
	if typ, ok := entryType(entry.Mode); !ok || typ != EntryBlob {
		log.Debug("path is not a file")
		return nil, nil
	}

	content, err := repo.readBlob(entry.Hash)
	if err != nil {
		return missOr(r, log, (*File)(nil), err)
	}

	return &File{
		Content: content,
		OID:     entry.Hash.String(),
		Path:    strings.Join(segments, "/"),
	}, nil
}

// ListBranches returns the branches of id. An unknown repository has none.
func (r *Reader) ListBranches(ctx context.Context, id repoid.ID) ([]Branch, error) {
	log := r.logger().With("repository", id.String())

	repo, err := open(ctx, r.store, id, r.opts, nil)
	if err != nil {
		return missOr(r, log, []Branch{}, err)
	}
	defer repo.Close()

	branches, err := repo.ListBranches()
	if err != nil {
		return missOr(r, log, []Branch{}, err)
	}
	return branches, nil
}

// Log returns up to limit commits reachable from branch, newest first. An
// unknown repository or branch has no history.
func (r *Reader) Log(ctx context.Context, id repoid.ID, branch string, limit int) ([]Commit, error) {
	log := r.logger().With("repository", id.String(), "branch", branch)
	if limit <= 0 {
		limit = DefaultLogLimit
	}

	repo, err := open(ctx, r.store, id, r.opts, nil)
	if err != nil {
		return missOr(r, log, []Commit{}, err)
	}
	defer repo.Close()

	commits := []Commit{}
	for c, err := range repo.WalkCommits(branch) {
		if err != nil {
			return missOr(r, log, []Commit{}, err)
		}
		commits = append(commits, c)
		if len(commits) >= limit {
			break
		}
	}
	return commits, nil
}

// missOr returns empty for lookups that miss and a classified error for
// everything else.
func missOr[T any](r *Reader, log *slog.Logger, empty T, err error) (T, error) {
	if isNotFound(err) || isInvalidBranch(err) {
		log.Debug("lookup missed", "error", err)
		return empty, nil
	}
	log.Error("repository read failed", "error", err)
	var zero T
	return zero, wrapError(err, "failed to read repository")
}

// branchTree returns the root tree of the tip commit of branch.
func (repo *Repository) branchTree(branch string) (*object.Tree, error) {
	tip, err := repo.resolveBranch(branch)
	if err != nil {
		return nil, err
	}
	commit, err := repo.repo.CommitObject(tip)
	if err != nil {
		return nil, wrapError(err, "failed to read commit")
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, wrapError(err, "failed to read tree")
	}
	return tree, nil
}

// descend walks segments from tree, requiring every segment to be a tree
// entry. It returns nil when a segment is missing or is not a directory.
func (repo *Repository) descend(tree *object.Tree, segments []string) (*object.Tree, error) {
	for _, name := range segments {
		entry := findEntry(tree, name)
		if entry == nil || entry.Mode != filemode.Dir {
			return nil, nil
		}
		next, err := repo.repo.TreeObject(entry.Hash)
		if err != nil {
			return nil, wrapError(err, "failed to read tree")
		}
		tree = next
	}
	return tree, nil
}

func (repo *Repository) readBlob(hash plumbing.Hash) (string, error) {
	blob, err := repo.repo.BlobObject(hash)
	if err != nil {
		return "", wrapError(err, "failed to read blob")
	}
	rd, err := blob.Reader()
	if err != nil {
		return "", wrapError(err, "failed to open blob")
	}
	defer rd.Close()

	raw, err := io.ReadAll(rd)
	if err != nil {
		return "", wrapError(err, "failed to read blob")
	}
	text, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
	}
	return string(text), nil
}

func findEntry(tree *object.Tree, name string) *object.TreeEntry {
	for i := range tree.Entries {
		if tree.Entries[i].Name == name {
			return &tree.Entries[i]
		}
	}
	return nil
}

// entryType maps a tree entry mode to blob or tree. Submodules have no
// content in this repository and are skipped.
func entryType(mode filemode.FileMode) (EntryType, bool) {
	switch mode {
	case filemode.Dir:
		return EntryTree, true
	case filemode.Regular, filemode.Executable, filemode.Deprecated, filemode.Symlink:
		return EntryBlob, true
	default:
		return "", false
	}
}

func sortEntries(entries []TreeEntry) {
	c := collate.New(language.Und)
	slices.SortStableFunc(entries, func(a, b TreeEntry) int {
		if a.Type != b.Type {
			if a.Type == EntryTree {
				return -1
			}
			return 1
		}
		return c.CompareString(a.Name, b.Name)
	})
}

// splitPath splits a slash-separated path and drops empty segments, so
// "", "/" and "a//b/" are all accepted.
func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
