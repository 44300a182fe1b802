package git

import "time"

// EntryType is the kind of a tree entry.
type EntryType string

const (
	// EntryBlob is a file. Symlinks are reported as blobs.
	EntryBlob EntryType = "blob"

	// EntryTree is a directory.
	EntryTree EntryType = "tree"
)

// TreeEntry is one immediate child of a directory.
type TreeEntry struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`
	OID  string    `json:"oid"`
	// Path is relative to the repository root.
	Path string `json:"path"`
}

// Listing is the result of ListDirectory.
//
// IsEmpty is true when the branch has no commits at all, which lets a UI
// tell an empty repository apart from a missing directory.
type Listing struct {
	Entries []TreeEntry `json:"entries"`
	IsEmpty bool        `json:"isEmpty"`
}

// File is the content of a blob decoded as UTF-8 text.
type File struct {
	Content string `json:"content"`
	OID     string `json:"oid"`
	Path    string `json:"path"`
}

// Branch is a local branch and its tip.
type Branch struct {
	Name      string `json:"name"`
	Hash      string `json:"hash"`
	IsDefault bool   `json:"isDefault"`
}

// Commit is a formatted commit summary.
type Commit struct {
	Hash      string    `json:"hash"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func emptyListing(isEmpty bool) Listing {
	return Listing{Entries: []TreeEntry{}, IsEmpty: isEmpty}
}
