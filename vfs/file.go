package vfs

import (
	"io"
	"os"

	"github.com/golang/groupcache/lru"

	"github.com/jmgilman/objgit/storage"
)

// readFile is a read-only handle that fetches fixed-size blocks with ranged
// GETs. go-git seeks around pack files, so only the blocks it touches are
// downloaded.
type readFile struct {
	fs     *FS
	name   string
	key    string
	size   int64
	pos    int64
	blocks *lru.Cache
	closed bool
}

func newReadFile(f *FS, name, key string, info storage.ObjectInfo) *readFile {
	return &readFile{
		fs:     f,
		name:   name,
		key:    key,
		size:   info.Size,
		blocks: lru.New(f.cacheBlocks),
	}
}

func (r *readFile) Name() string { return r.name }

func (r *readFile) block(idx int64) ([]byte, error) {
	if cached, ok := r.blocks.Get(idx); ok {
		return cached.([]byte), nil
	}
	data, err := r.fs.store.GetRange(r.fs.ctx, r.key, idx*r.fs.blockSize, r.fs.blockSize)
	if err != nil {
		return nil, pathError("read", r.name, err)
	}
	r.blocks.Add(idx, data)
	return data, nil
}

func (r *readFile) ReadAt(p []byte, off int64) (int, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	if off < 0 {
		return 0, &os.PathError{Op: "readat", Path: r.name, Err: os.ErrInvalid}
	}
	if off >= r.size {
		return 0, io.EOF
	}

	bs := r.fs.blockSize
	n := 0
	for n < len(p) && off+int64(n) < r.size {
		at := off + int64(n)
		idx := at / bs
		data, err := r.block(idx)
		if err != nil {
			return n, err
		}
		inner := at - idx*bs
		if inner >= int64(len(data)) {
			// The object shrank underneath us.
			return n, io.ErrUnexpectedEOF
		}
		n += copy(p[n:], data[inner:])
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *readFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (r *readFile) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return 0, os.ErrClosed
	}
	pos, err := seekPosition(r.pos, r.size, offset, whence)
	if err != nil {
		return r.pos, &os.PathError{Op: "seek", Path: r.name, Err: err}
	}
	r.pos = pos
	return pos, nil
}

func (r *readFile) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: r.name, Err: os.ErrPermission}
}

func (r *readFile) Truncate(int64) error {
	return &os.PathError{Op: "truncate", Path: r.name, Err: os.ErrPermission}
}

func (r *readFile) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.blocks.Clear()
	return nil
}

func (r *readFile) Lock() error   { return nil }
func (r *readFile) Unlock() error { return nil }

// writeFile buffers the whole object in memory and uploads it on Close.
type writeFile struct {
	fs     *FS
	name   string
	key    string
	flag   int
	buf    []byte
	pos    int64
	dirty  bool
	closed bool
}

func newWriteFile(f *FS, name, key string, flag int, content []byte) *writeFile {
	w := &writeFile{
		fs:   f,
		name: name,
		key:  key,
		flag: flag,
		buf:  content,
	}
	if flag&os.O_APPEND != 0 {
		w.pos = int64(len(content))
	}
	return w
}

func (w *writeFile) Name() string { return w.name }

func (w *writeFile) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	if w.flag&os.O_APPEND != 0 {
		w.pos = int64(len(w.buf))
	}
	end := w.pos + int64(len(p))
	if end > int64(len(w.buf)) {
		grown := make([]byte, end)
		copy(grown, w.buf)
		w.buf = grown
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	w.dirty = true
	return len(p), nil
}

func (w *writeFile) ReadAt(p []byte, off int64) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	if w.flag&os.O_WRONLY != 0 {
		return 0, &os.PathError{Op: "read", Path: w.name, Err: os.ErrPermission}
	}
	if off >= int64(len(w.buf)) {
		return 0, io.EOF
	}
	n := copy(p, w.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (w *writeFile) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := w.ReadAt(p, w.pos)
	w.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (w *writeFile) Seek(offset int64, whence int) (int64, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	pos, err := seekPosition(w.pos, int64(len(w.buf)), offset, whence)
	if err != nil {
		return w.pos, &os.PathError{Op: "seek", Path: w.name, Err: err}
	}
	w.pos = pos
	return pos, nil
}

func (w *writeFile) Truncate(size int64) error {
	if w.closed {
		return os.ErrClosed
	}
	if size < 0 {
		return &os.PathError{Op: "truncate", Path: w.name, Err: os.ErrInvalid}
	}
	if size <= int64(len(w.buf)) {
		w.buf = w.buf[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, w.buf)
		w.buf = grown
	}
	w.dirty = true
	return nil
}

// Close uploads the buffer if anything changed. Closing twice is a no-op.
func (w *writeFile) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if !w.dirty {
		return nil
	}
	if _, err := w.fs.store.Put(w.fs.ctx, w.key, w.buf, storage.PutOptions{}); err != nil {
		return pathError("close", w.name, err)
	}
	return nil
}

func (w *writeFile) Lock() error   { return nil }
func (w *writeFile) Unlock() error { return nil }

func seekPosition(cur, size, offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = cur + offset
	case io.SeekEnd:
		pos = size + offset
	default:
		return 0, os.ErrInvalid
	}
	if pos < 0 {
		return 0, os.ErrInvalid
	}
	return pos, nil
}
