// Package vfs adapts a storage.Store to the go-billy filesystem interface so
// go-git can read and write a bare repository that lives in object storage.
//
// An FS is bound to one repository key prefix and one context. Paths are
// slash-separated and cleaned against the root, so "../" cannot reach a
// sibling repository. Object stores have no directories: a directory exists
// exactly when some key lives below it, MkdirAll is a no-op, and an empty
// directory reports fs.ErrNotExist.
//
// Every call goes straight to the store. Open file handles buffer writes
// until Close and cache read blocks for their own lifetime only.
//
// Missing keys surface as *os.PathError wrapping os.ErrNotExist, so both
// os.IsNotExist (which go-git uses) and errors.Is work. Any other store
// failure is wrapped unchanged and keeps its storage error classification.
package vfs
