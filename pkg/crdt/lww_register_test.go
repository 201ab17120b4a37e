package crdt

import "testing"

func TestLWWRegister_Set(t *testing.T) {
	tests := []struct {
		name    string
		writes  []Timestamp
		values  []string
		want    string
		applied []bool
	}{
		{
			name:    "single write",
			writes:  []Timestamp{{WallTime: 10, ID: "a"}},
			values:  []string{"x"},
			want:    "x",
			applied: []bool{true},
		},
		{
			name:    "newer wins",
			writes:  []Timestamp{{WallTime: 10, ID: "a"}, {WallTime: 20, ID: "a"}},
			values:  []string{"x", "y"},
			want:    "y",
			applied: []bool{true, true},
		},
		{
			name:    "stale write ignored",
			writes:  []Timestamp{{WallTime: 20, ID: "a"}, {WallTime: 10, ID: "a"}},
			values:  []string{"y", "x"},
			want:    "y",
			applied: []bool{true, false},
		},
		{
			name:    "same timestamp ignored",
			writes:  []Timestamp{{WallTime: 10, ID: "a"}, {WallTime: 10, ID: "a"}},
			values:  []string{"x", "z"},
			want:    "x",
			applied: []bool{true, false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewLWWRegister[string]()
			for i, ts := range tc.writes {
				if got := r.Set(tc.values[i], ts); got != tc.applied[i] {
					t.Fatalf("write %d applied = %v, want %v", i, got, tc.applied[i])
				}
			}
			if got, _, _ := r.Get(); got != tc.want {
				t.Fatalf("Get() = %q, want %q", got, tc.want)
			}
		})
	}
}
