package respcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/librarian/internal/db"
	"github.com/kailas-cloud/librarian/internal/domain"
)

type fakeKV struct {
	data   map[string][]byte
	getErr error
	setErr error
}

func newFakeKV() *fakeKV {
	return &fakeKV{data: make(map[string][]byte)}
}

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	v, ok := f.data[key]
	if !ok {
		return nil, db.ErrKeyNotFound
	}
	return v, nil
}

func (f *fakeKV) SetWithTTL(_ context.Context, key string, value []byte, _ time.Duration) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.data[key] = value
	return nil
}

func TestCache_RoundTrip(t *testing.T) {
	kv := newFakeKV()
	c := New(kv, time.Minute, nil, zap.NewNop())

	results := []domain.SearchResult{
		{ID: "a", Distance: 0.1, Metadata: map[string]string{"title": "Dune"}},
		{ID: "b", Distance: 0.2},
	}
	c.Put(context.Background(), "key1", results)

	got, ok := c.Get(context.Background(), "key1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if len(got) != 2 || got[0].ID != "a" || got[0].Metadata["title"] != "Dune" {
		t.Errorf("cached results mangled: %+v", got)
	}
}

func TestCache_MissWhenAbsent(t *testing.T) {
	c := New(newFakeKV(), time.Minute, nil, zap.NewNop())

	if _, ok := c.Get(context.Background(), "nope"); ok {
		t.Error("expected miss for absent key")
	}
}

func TestCache_StorageErrorIsMiss(t *testing.T) {
	kv := newFakeKV()
	kv.getErr = errors.New("connection refused")
	c := New(kv, time.Minute, nil, zap.NewNop())

	if _, ok := c.Get(context.Background(), "key"); ok {
		t.Error("storage failure must degrade to a miss")
	}
}

func TestCache_WriteErrorIsSwallowed(t *testing.T) {
	kv := newFakeKV()
	kv.setErr = errors.New("connection refused")
	c := New(kv, time.Minute, nil, zap.NewNop())

	// Must not panic or surface the error.
	c.Put(context.Background(), "key", []domain.SearchResult{{ID: "a"}})
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	kv := newFakeKV()
	kv.data[cacheKeyPrefix+"key"] = []byte("{not json")
	c := New(kv, time.Minute, nil, zap.NewNop())

	if _, ok := c.Get(context.Background(), "key"); ok {
		t.Error("corrupt entry must degrade to a miss")
	}
}
