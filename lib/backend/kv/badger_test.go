package kv

import (
	"testing"

	"github.com/mercato/go-mercato/lib/types/store"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	opt := DefaultOptions
	opt.GcInterval = 0
	ds, err := NewBadgerStore(t.TempDir(), &opt)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ds.Close() })
	return ds
}

func testKVStore(t *testing.T, ds store.KVStore) {
	key := store.NewKey("test", "k1")
	if err := ds.Put(key, []byte("v1")); err != nil {
		t.Fatal(err)
	}

	val, err := ds.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(val) != "v1" {
		t.Fatal("unexpected value:", string(val))
	}

	has, err := ds.Has(key)
	if err != nil || !has {
		t.Fatal("expected key to exist")
	}

	if err := ds.Delete(key); err != nil {
		t.Fatal(err)
	}
	has, err = ds.Has(key)
	if err != nil || has {
		t.Fatal("expected key to be gone")
	}
}

func testIter(t *testing.T, ds store.KVStore) {
	for _, id := range []string{"a", "b", "c"} {
		if err := ds.Put(store.NewKey("offers", id), []byte(id)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ds.Put(store.NewKey("other", "x"), []byte("x")); err != nil {
		t.Fatal(err)
	}

	seen := 0
	n := ds.Iter(store.NewKey("offers"), func(k, v []byte) error {
		seen++
		return nil
	})
	if n != 3 || seen != 3 {
		t.Fatalf("expected 3 entries under prefix, got n=%d seen=%d", n, seen)
	}

	keys := 0
	ds.IterKeys(store.NewKey("offers"), func(k []byte) error {
		keys++
		return nil
	})
	if keys != 3 {
		t.Fatal("expected 3 keys, got", keys)
	}
}

func testGetNext(t *testing.T, ds store.KVStore) {
	key := store.NewKey("seq", "counter")
	first, err := ds.GetNext(key, 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := ds.GetNext(key, 1)
	if err != nil {
		t.Fatal(err)
	}
	if second <= first {
		t.Fatal("sequence must be monotone:", first, second)
	}
}

func TestBadgerStore(t *testing.T) {
	ds := newTestBadger(t)
	testKVStore(t, ds)
	testIter(t, ds)
	testGetNext(t, ds)
}

func TestMemStore(t *testing.T) {
	ds := NewMemStore()
	testKVStore(t, ds)
	testIter(t, ds)
	testGetNext(t, ds)
}

func TestBadgerMissingKey(t *testing.T) {
	ds := newTestBadger(t)
	val, err := ds.Get([]byte("missing"))
	if err != nil {
		t.Fatal("missing key is not an error:", err)
	}
	if val != nil {
		t.Fatal("expected nil value")
	}
}
