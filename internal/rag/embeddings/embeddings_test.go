package embeddings

import "testing"

func TestBatches(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	tests := []struct {
		size int
		want []int
	}{
		{size: 2, want: []int{2, 2, 1}},
		{size: 5, want: []int{5}},
		{size: 10, want: []int{5}},
		{size: 0, want: []int{5}},
	}
	for _, tt := range tests {
		got := Batches(texts, tt.size)
		if len(got) != len(tt.want) {
			t.Fatalf("Batches(size=%d) returned %d batches, want %d", tt.size, len(got), len(tt.want))
		}
		for i, b := range got {
			if len(b) != tt.want[i] {
				t.Errorf("Batches(size=%d)[%d] has %d items, want %d", tt.size, i, len(b), tt.want[i])
			}
		}
	}
	if got := Batches(nil, 3); len(got) != 0 {
		t.Fatalf("expected no batches for empty input, got %d", len(got))
	}
}
