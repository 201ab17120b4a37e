package storage

import (
	"fmt"
	"sync"
	"testing"
)

func TestEngine_PutGetDelete(t *testing.T) {
	e := NewEngine[int](4)

	if !e.Put("a", 1) {
		t.Fatalf("first Put must report a new key")
	}
	if e.Put("a", 2) {
		t.Fatalf("second Put must report an existing key")
	}
	if v, ok := e.Get("a"); !ok || v != 2 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}
	if e.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", e.Len())
	}

	if v, ok := e.Delete("a"); !ok || v != 2 {
		t.Fatalf("Delete(a) = %d, %v", v, ok)
	}
	if _, ok := e.Get("a"); ok || e.Len() != 0 {
		t.Fatalf("key still present after Delete")
	}
}

func TestEngine_GetOrCreate(t *testing.T) {
	e := NewEngine[*int](0)
	calls := 0
	create := func() *int { calls++; v := calls; return &v }

	first, created := e.GetOrCreate("room", create)
	second, createdAgain := e.GetOrCreate("room", create)
	if !created || createdAgain || first != second || calls != 1 {
		t.Fatalf("GetOrCreate created=%v/%v calls=%d", created, createdAgain, calls)
	}
}

func TestEngine_GrowsUnderLoad(t *testing.T) {
	e := NewEngine[int](1)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 3000; i++ {
				key := fmt.Sprintf("k-%d-%d", w, i)
				e.Put(key, i)
				if _, ok := e.Get(key); !ok {
					t.Errorf("lost key %s", key)
				}
			}
		}(w)
	}
	wg.Wait()

	if e.Len() != 12000 {
		t.Fatalf("Len() = %d, want 12000", e.Len())
	}
	if e.numShards.Load() < 2 {
		t.Fatalf("engine did not grow: %d shards", e.numShards.Load())
	}

	count := 0
	e.Range(func(string, int) bool { count++; return true })
	if count != 12000 {
		t.Fatalf("Range visited %d keys, want 12000", count)
	}
}
