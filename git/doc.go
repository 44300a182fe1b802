// Package git reads repositories whose bare layout lives in an object store.
//
// Every call opens the repository through a vfs.FS rooted at the
// repository prefix and hands it to go-git's filesystem storage, so no
// local clone is ever made. Repository handles are short-lived: open one
// per request and Close it when done.
//
// # Reading
//
// Reader answers the browse queries a hosting UI needs:
//
//	r := git.NewReader(store, git.WithLogger(logger))
//	listing, err := r.ListDirectory(ctx, id, "main", "docs")
//	file, err := r.ReadFile(ctx, id, "main", "docs/README.md")
//
// Missing repositories, branches, paths and commits are not errors. They
// produce an empty Listing or a nil *File. Anything else, typically a
// failing store, is returned as a retryable STORAGE_ERROR.
//
// # Lifecycle
//
// Create writes the initial bare layout (HEAD, config and description)
// and Delete removes every key under the repository prefix.
package git
