package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

type Op string

const (
	OpGet        Op = "get"
	OpSet        Op = "set"
	OpDelete     Op = "delete"
	OpAppend     Op = "append"
	OpQuery      Op = "query"
	OpPut        Op = "put"
	OpGetBlob    Op = "get_blob"
	OpGetToFile  Op = "get_to_file"
	OpDeleteBlob Op = "delete_blob"
)

type blob struct {
	data        []byte
	contentType string
}

// Memory is an in-process Store. Several engines may share one Memory to act
// as separate devices against the same remote.
type Memory struct {
	mu    sync.Mutex
	root  map[string]any
	blobs map[string]blob
	calls map[Op]int

	// Fail, when set, is consulted before every operation; a non-nil result
	// is returned instead of performing it.
	Fail func(op Op, path string) error
}

func NewMemory() *Memory {
	return &Memory{
		root:  make(map[string]any),
		blobs: make(map[string]blob),
		calls: make(map[Op]int),
	}
}

func (m *Memory) begin(op Op, path string) error {
	m.mu.Lock()
	m.calls[op]++
	fail := m.Fail
	m.mu.Unlock()
	if fail != nil {
		return fail(op, path)
	}
	return nil
}

// Calls returns how many times op was invoked.
func (m *Memory) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *Memory) Get(ctx context.Context, path string) (json.RawMessage, error) {
	if err := m.begin(OpGet, path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.lookup(path)
	if !ok {
		return nil, ErrNotFound
	}
	return json.Marshal(v)
}

func (m *Memory) Set(ctx context.Context, path string, value any) error {
	if err := m.begin(OpSet, path); err != nil {
		return err
	}
	v, err := Normalize(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assign(path, v)
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := m.begin(OpDelete, path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assign(path, nil)
	return nil
}

func (m *Memory) AppendChild(ctx context.Context, parentPath string, value any) (string, error) {
	if err := m.begin(OpAppend, parentPath); err != nil {
		return "", err
	}
	v, err := Normalize(value)
	if err != nil {
		return "", err
	}
	key := NewChildKey()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assign(Join(parentPath, key), v)
	return key, nil
}

func (m *Memory) QueryByChildEquals(ctx context.Context, path, field, value string) (map[string]json.RawMessage, error) {
	if err := m.begin(OpQuery, path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, _ := m.lookup(path)
	return ChildrenMatching(v, field, value), nil
}

func (m *Memory) PutBlob(ctx context.Context, path string, r io.Reader, contentType string) error {
	if err := m.begin(OpPut, path); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read blob: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[path] = blob{data: data, contentType: contentType}
	return nil
}

func (m *Memory) GetBlob(ctx context.Context, path string, maxBytes int64) ([]byte, error) {
	if err := m.begin(OpGetBlob, path); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[path]
	if !ok {
		return nil, ErrNotFound
	}
	if maxBytes > 0 && int64(len(b.data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return bytes.Clone(b.data), nil
}

func (m *Memory) GetBlobToFile(ctx context.Context, path, dest string) error {
	if err := m.begin(OpGetToFile, path); err != nil {
		return err
	}
	m.mu.Lock()
	b, ok := m.blobs[path]
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	return WriteFileAtomic(dest, bytes.NewReader(b.data))
}

func (m *Memory) DeleteBlob(ctx context.Context, path string) error {
	if err := m.begin(OpDeleteBlob, path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, path)
	return nil
}

// Blob returns a stored blob and its content type.
func (m *Memory) Blob(path string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blobs[path]
	return bytes.Clone(b.data), b.contentType, ok
}

func (m *Memory) lookup(path string) (any, bool) {
	var node any = m.root
	for _, seg := range Split(path) {
		nm, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		if node, ok = nm[seg]; !ok {
			return nil, false
		}
	}
	if nm, ok := node.(map[string]any); ok && len(nm) == 0 {
		return nil, false
	}
	return cloneTree(node), true
}

// assign replaces the subtree at path; nil deletes it and prunes empty parents.
func (m *Memory) assign(path string, v any) {
	segs := Split(path)
	if len(segs) == 0 {
		root, _ := v.(map[string]any)
		if root == nil {
			root = make(map[string]any)
		}
		m.root = root
		return
	}
	parents := []map[string]any{m.root}
	node := m.root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := node[seg].(map[string]any)
		if !ok {
			if v == nil {
				return
			}
			next = make(map[string]any)
			node[seg] = next
		}
		node = next
		parents = append(parents, node)
	}
	last := segs[len(segs)-1]
	if v != nil {
		node[last] = v
		return
	}
	delete(node, last)
	for i := len(parents) - 1; i > 0; i-- {
		if len(parents[i]) > 0 {
			break
		}
		delete(parents[i-1], segs[i-1])
	}
}
