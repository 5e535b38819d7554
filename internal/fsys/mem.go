package fsys

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"
)

const maxSymlinkHops = 40

// Mem is an in-memory FS with symlinks. Files can be grown sparsely with
// Truncate so size-driven behavior is testable without allocating the bytes.
type Mem struct {
	mu    sync.Mutex
	nodes map[string]*memNode
	now   func() time.Time
}

type memNode struct {
	mode    fs.FileMode
	data    []byte
	size    int64 // >= len(data); the tail past data reads as zeros
	target  string
	modTime time.Time
}

// NewMem returns an empty tree containing only "/".
func NewMem() *Mem {
	m := &Mem{nodes: make(map[string]*memNode), now: time.Now}
	m.nodes["/"] = &memNode{mode: fs.ModeDir | 0o755, modTime: m.now()}
	return m
}

var _ FS = (*Mem)(nil)

func pathErr(op, path string, err error) error {
	return &fs.PathError{Op: op, Path: path, Err: err}
}

func splitPath(p string) []string {
	p = strings.Trim(filepath.Clean(p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// resolve walks p, substituting symlinks in intermediate components and, when
// followLast is set, in the final one. The returned path has only real
// directories as ancestors; its final component may not exist.
func (m *Mem) resolve(op, p string, followLast bool) (string, error) {
	if !filepath.IsAbs(p) {
		return "", pathErr(op, p, errors.New("path must be absolute"))
	}
	orig := p
	for hops := 0; hops <= maxSymlinkHops; hops++ {
		parts := splitPath(p)
		cur := "/"
		restart := ""
		for i, part := range parts {
			next := filepath.Join(cur, part)
			n, ok := m.nodes[next]
			last := i == len(parts)-1
			if !ok {
				if last {
					return next, nil
				}
				return "", pathErr(op, orig, fs.ErrNotExist)
			}
			if n.mode&fs.ModeSymlink != 0 && (!last || followLast) {
				target := n.target
				if !filepath.IsAbs(target) {
					target = filepath.Join(cur, target)
				}
				restart = filepath.Join(append([]string{target}, parts[i+1:]...)...)
				break
			}
			if !last && !n.mode.IsDir() {
				return "", pathErr(op, orig, syscall.ENOTDIR)
			}
			cur = next
		}
		if restart == "" {
			return cur, nil
		}
		p = restart
	}
	return "", pathErr(op, orig, syscall.ELOOP)
}

func (m *Mem) lookup(op, p string, followLast bool) (string, *memNode, error) {
	rp, err := m.resolve(op, p, followLast)
	if err != nil {
		return "", nil, err
	}
	n, ok := m.nodes[rp]
	if !ok {
		return rp, nil, pathErr(op, p, fs.ErrNotExist)
	}
	return rp, n, nil
}

func (m *Mem) parentDir(op, rp, orig string) error {
	parent, ok := m.nodes[filepath.Dir(rp)]
	if !ok {
		return pathErr(op, orig, fs.ErrNotExist)
	}
	if !parent.mode.IsDir() {
		return pathErr(op, orig, syscall.ENOTDIR)
	}
	return nil
}

// MkdirAll creates path and any missing parents.
func (m *Mem) MkdirAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := "/"
	for _, part := range splitPath(path) {
		next := filepath.Join(cur, part)
		rp, n, err := m.lookup("mkdir", next, true)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if n == nil {
			if rp == "" {
				return pathErr("mkdir", path, fs.ErrNotExist)
			}
			n = &memNode{mode: fs.ModeDir | 0o755, modTime: m.now()}
			m.nodes[rp] = n
		} else if !n.mode.IsDir() {
			return pathErr("mkdir", path, syscall.ENOTDIR)
		}
		cur = rp
	}
	return nil
}

// Create creates or truncates a regular file.
func (m *Mem) Create(path string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rp, n, err := m.lookup("open", path, true)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if n != nil && n.mode.IsDir() {
		return nil, pathErr("open", path, syscall.EISDIR)
	}
	if err := m.parentDir("open", rp, path); err != nil {
		return nil, err
	}
	n = &memNode{mode: 0o644, modTime: m.now()}
	m.nodes[rp] = n
	return &memWriter{m: m, n: n}, nil
}

// CreateExclusive creates a regular file unless path already exists.
func (m *Mem) CreateExclusive(path string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rp, n, err := m.lookup("open", path, false)
	if n != nil {
		return nil, pathErr("open", path, fs.ErrExist)
	}
	if rp == "" {
		return nil, err
	}
	if err := m.parentDir("open", rp, path); err != nil {
		return nil, err
	}
	n = &memNode{mode: 0o644, modTime: m.now()}
	m.nodes[rp] = n
	return &memWriter{m: m, n: n}, nil
}

type memWriter struct {
	m      *Mem
	n      *memNode
	closed bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.closed {
		return 0, fs.ErrClosed
	}
	w.n.data = append(w.n.data, p...)
	w.n.size = int64(len(w.n.data))
	w.n.modTime = w.m.now()
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	return nil
}

// Open opens a regular file for reading.
func (m *Mem) Open(path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, n, err := m.lookup("open", path, true)
	if err != nil {
		return nil, err
	}
	if n.mode.IsDir() {
		return nil, pathErr("open", path, syscall.EISDIR)
	}
	data := append([]byte(nil), n.data...)
	r := io.MultiReader(bytes.NewReader(data), io.LimitReader(zeros{}, n.size-int64(len(data))))
	return io.NopCloser(r), nil
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// Truncate changes the size of a regular file without materializing new bytes.
func (m *Mem) Truncate(path string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, n, err := m.lookup("truncate", path, true)
	if err != nil {
		return err
	}
	if !n.mode.IsRegular() {
		return pathErr("truncate", path, syscall.EINVAL)
	}
	if size < int64(len(n.data)) {
		n.data = n.data[:size]
	}
	n.size = size
	return nil
}

func (m *Mem) Stat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, n, err := m.lookup("stat", path, true)
	if err != nil {
		return nil, err
	}
	return memInfo{name: filepath.Base(path), n: *n}, nil
}

func (m *Mem) Lstat(path string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rp, n, err := m.lookup("lstat", path, false)
	if err != nil {
		return nil, err
	}
	return memInfo{name: filepath.Base(rp), n: *n}, nil
}

func (m *Mem) ReadDir(path string) ([]fs.DirEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rp, n, err := m.lookup("readdir", path, true)
	if err != nil {
		return nil, err
	}
	if !n.mode.IsDir() {
		return nil, pathErr("readdir", path, syscall.ENOTDIR)
	}
	var out []fs.DirEntry
	for p, child := range m.nodes {
		if p != "/" && filepath.Dir(p) == rp {
			out = append(out, fs.FileInfoToDirEntry(memInfo{name: filepath.Base(p), n: *child}))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

// Rename moves oldpath to newpath, replacing a non-directory at newpath.
func (m *Mem) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ro, n, err := m.lookup("rename", oldpath, false)
	if err != nil {
		return err
	}
	rn, dst, err := m.lookup("rename", newpath, false)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if rn == "" {
		return pathErr("rename", newpath, fs.ErrNotExist)
	}
	if err := m.parentDir("rename", rn, newpath); err != nil {
		return err
	}
	if ro == rn {
		return nil
	}
	if dst != nil && dst.mode.IsDir() {
		return pathErr("rename", newpath, syscall.EEXIST)
	}
	if n.mode.IsDir() && strings.HasPrefix(rn, ro+"/") {
		return pathErr("rename", newpath, syscall.EINVAL)
	}

	moved := map[string]*memNode{rn: n}
	delete(m.nodes, ro)
	if n.mode.IsDir() {
		for p, child := range m.nodes {
			if strings.HasPrefix(p, ro+"/") {
				moved[rn+strings.TrimPrefix(p, ro)] = child
				delete(m.nodes, p)
			}
		}
	}
	for p, child := range moved {
		m.nodes[p] = child
	}
	return nil
}

func (m *Mem) Symlink(target, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rl, n, err := m.lookup("symlink", link, false)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if rl == "" {
		return pathErr("symlink", link, fs.ErrNotExist)
	}
	if n != nil {
		return pathErr("symlink", link, fs.ErrExist)
	}
	if err := m.parentDir("symlink", rl, link); err != nil {
		return err
	}
	m.nodes[rl] = &memNode{mode: fs.ModeSymlink | 0o777, target: target, size: int64(len(target)), modTime: m.now()}
	return nil
}

func (m *Mem) Readlink(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, n, err := m.lookup("readlink", path, false)
	if err != nil {
		return "", err
	}
	if n.mode&fs.ModeSymlink == 0 {
		return "", pathErr("readlink", path, syscall.EINVAL)
	}
	return n.target, nil
}

// Remove deletes a file, a symlink or an empty directory.
func (m *Mem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rp, n, err := m.lookup("remove", path, false)
	if err != nil {
		return err
	}
	if rp == "/" {
		return pathErr("remove", path, syscall.EBUSY)
	}
	if n.mode.IsDir() {
		for p := range m.nodes {
			if strings.HasPrefix(p, rp+"/") {
				return pathErr("remove", path, syscall.ENOTEMPTY)
			}
		}
	}
	delete(m.nodes, rp)
	return nil
}

type memInfo struct {
	name string
	n    memNode
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.n.size }
func (i memInfo) Mode() fs.FileMode  { return i.n.mode }
func (i memInfo) ModTime() time.Time { return i.n.modTime }
func (i memInfo) IsDir() bool        { return i.n.mode.IsDir() }
func (i memInfo) Sys() any           { return nil }
