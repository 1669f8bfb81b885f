package storage

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"firebase.google.com/go/v4/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRTDB mimics the Realtime Database REST semantics used by the backend:
// absent nodes read as JSON null and deleting a node removes its children.
type fakeRTDB struct {
	mu    sync.Mutex
	nodes map[string][]byte
}

type fakeRef struct {
	db   *fakeRTDB
	path string
}

type fakeTxNode struct{ raw []byte }

func (n fakeTxNode) Unmarshal(v interface{}) error {
	return json.Unmarshal(n.raw, v)
}

func (f *fakeRTDB) ref(path string) rtdbNode {
	return &fakeRef{db: f, path: path}
}

func (r *fakeRef) read() []byte {
	if raw, ok := r.db.nodes[r.path]; ok {
		return raw
	}
	return []byte("null")
}

func (r *fakeRef) Get(_ context.Context, v interface{}) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return json.Unmarshal(r.read(), v)
}

func (r *fakeRef) Set(_ context.Context, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.nodes[r.path] = raw
	return nil
}

func (r *fakeRef) Delete(_ context.Context) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for path := range r.db.nodes {
		if path == r.path || strings.HasPrefix(path, r.path+"/") {
			delete(r.db.nodes, path)
		}
	}
	return nil
}

func (r *fakeRef) Transaction(_ context.Context, fn db.UpdateFn) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	next, err := fn(fakeTxNode{raw: r.read()})
	if err != nil {
		return err
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return err
	}
	r.db.nodes[r.path] = raw
	return nil
}

func newFakeFirebase() (*FirebaseBackend, *fakeRTDB) {
	fake := &fakeRTDB{nodes: make(map[string][]byte)}
	return newFirebaseBackend(fake.ref), fake
}

func TestFirebaseBackendContract(t *testing.T) {
	backend, _ := newFakeFirebase()
	exerciseBackend(t, backend)
}

func TestFirebaseBackendLayout(t *testing.T) {
	backend, fake := newFakeFirebase()
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "abc", "selectedLocations", []byte(`["cafe"]`)))
	require.NoError(t, backend.AppendInteraction(ctx, "abc", Interaction{Action: "page_view"}))

	assert.JSONEq(t, `["cafe"]`, string(fake.nodes["wizard/abc/state/selectedLocations"]))
	assert.Contains(t, string(fake.nodes["wizard/abc/interactions"]), `"page_view"`)
}
