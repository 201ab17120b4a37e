package crdt

import (
	"sync"
	"testing"
	"time"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a    Timestamp
		b    Timestamp
		want int
	}{
		{
			name: "a walltime < b walltime",
			a:    Timestamp{WallTime: 100, Logical: 5, ID: "node1"},
			b:    Timestamp{WallTime: 200, Logical: 3, ID: "node2"},
			want: Lower,
		},
		{
			name: "a walltime > b walltime",
			a:    Timestamp{WallTime: 300, Logical: 1, ID: "node1"},
			b:    Timestamp{WallTime: 200, Logical: 10, ID: "node2"},
			want: Greater,
		},
		{
			name: "equal walltime, a logical < b logical",
			a:    Timestamp{WallTime: 100, Logical: 3, ID: "node1"},
			b:    Timestamp{WallTime: 100, Logical: 5, ID: "node2"},
			want: Lower,
		},
		{
			name: "equal walltime and logical, id tie-break",
			a:    Timestamp{WallTime: 100, Logical: 5, ID: "node3"},
			b:    Timestamp{WallTime: 100, Logical: 5, ID: "node2"},
			want: Greater,
		},
		{
			name: "completely equal timestamps",
			a:    Timestamp{WallTime: 100, Logical: 5, ID: "node1"},
			b:    Timestamp{WallTime: 100, Logical: 5, ID: "node1"},
			want: Equal,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Compare(tc.a, tc.b); got != tc.want {
				t.Errorf("Compare(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestClock_NowMonotonicWithFrozenTime(t *testing.T) {
	frozen := time.Unix(1_700_000_000, 0)
	c := NewClock("n1").WithNow(func() time.Time { return frozen })

	prev := c.Now()
	for i := 0; i < 100; i++ {
		next := c.Now()
		if !prev.Before(next) {
			t.Fatalf("timestamp did not advance: %v -> %v", prev, next)
		}
		prev = next
	}
	if prev.WallTime != uint64(frozen.UnixNano()) || prev.Logical != 100 {
		t.Fatalf("unexpected final timestamp %v", prev)
	}
}

func TestClock_ObserveRemoteAhead(t *testing.T) {
	local := time.Unix(1_700_000_000, 0)
	c := NewClock("n1").WithNow(func() time.Time { return local })

	remote := Timestamp{WallTime: uint64(local.Add(time.Second).UnixNano()), Logical: 7, ID: "n2"}
	got := c.Observe(remote)
	if !remote.Before(got) {
		t.Fatalf("Observe(%v) = %v, must be after remote", remote, got)
	}
	if got.WallTime != remote.WallTime || got.Logical != 8 {
		t.Fatalf("Observe() = %v, want wall of remote and logical 8", got)
	}
	if next := c.Now(); !got.Before(next) {
		t.Fatalf("Now() after Observe went backwards: %v -> %v", got, next)
	}
}

func TestClock_ConcurrentNowUnique(t *testing.T) {
	c := NewClock("n1")

	var mu sync.Mutex
	seen := make(map[Timestamp]bool)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				ts := c.Now()
				mu.Lock()
				if seen[ts] {
					t.Errorf("duplicate timestamp %v", ts)
				}
				seen[ts] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}
