package ingest

import (
	"strings"
	"testing"
)

func TestNewSplitter_Validation(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
		wantErr       bool
	}{
		{"valid", 1000, 200, false},
		{"zero overlap", 100, 0, false},
		{"zero size", 0, 0, true},
		{"negative overlap", 100, -1, true},
		{"overlap equals size", 100, 100, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSplitter(tt.size, tt.overlap)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSplitter(%d, %d) error = %v, wantErr %v",
					tt.size, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	s, _ := NewSplitter(1000, 200)

	got := s.Split("The revolution began in 1910.")
	if len(got) != 1 {
		t.Fatalf("Split() = %d chunks, want 1", len(got))
	}
	if got[0] != "The revolution began in 1910." {
		t.Errorf("chunk = %q, want original text", got[0])
	}
}

func TestSplit_EmptyInput(t *testing.T) {
	s, _ := NewSplitter(100, 20)

	if got := s.Split(""); got != nil {
		t.Errorf("Split(\"\") = %v, want nil", got)
	}
	if got := s.Split("   \n\t  "); got != nil {
		t.Errorf("Split(whitespace) = %v, want nil", got)
	}
}

func TestSplit_RespectsSizeLimit(t *testing.T) {
	s, _ := NewSplitter(80, 20)

	text := strings.Repeat("The land belongs to those who work it with their hands. ", 20)
	chunks := s.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("Split() = %d chunks, want several", len(chunks))
	}
	for i, c := range chunks {
		// Overlap seeding can push a chunk slightly past the limit when the
		// next sentence does not fit; a full extra sentence should not.
		if len(c) > 80+60 {
			t.Errorf("chunk %d length = %d, far over limit: %q", i, len(c), c)
		}
	}
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s, _ := NewSplitter(60, 0)

	text := "First paragraph about Zapata.\n\nSecond paragraph about Madero."
	chunks := s.Split(text)

	if len(chunks) != 2 {
		t.Fatalf("Split() = %d chunks, want 2: %q", len(chunks), chunks)
	}
	if !strings.Contains(chunks[0], "Zapata") || strings.Contains(chunks[0], "Madero") {
		t.Errorf("chunk 0 = %q, want only the first paragraph", chunks[0])
	}
	if !strings.Contains(chunks[1], "Madero") {
		t.Errorf("chunk 1 = %q, want the second paragraph", chunks[1])
	}
}

func TestSplit_OverlapCarriesContext(t *testing.T) {
	s, _ := NewSplitter(50, 15)

	text := "Villa commanded the Division of the North. Zapata fought in Morelos. Carranza drafted the constitution."
	chunks := s.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("Split() = %d chunks, want at least 2", len(chunks))
	}

	// Each chunk after the first starts with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prefix := strings.Fields(chunks[i])[0]
		if !strings.Contains(chunks[i-1], prefix) {
			t.Errorf("chunk %d starts with %q, not found in previous chunk %q",
				i, prefix, chunks[i-1])
		}
	}
}

func TestSplit_NoWordSplitInOverlap(t *testing.T) {
	s, _ := NewSplitter(40, 10)

	text := "Revolutionary armies crossed the northern deserts. Trains carried soldiers and supplies south."
	for _, c := range s.Split(text) {
		first := strings.Fields(c)[0]
		if !strings.Contains(text, first) {
			t.Errorf("chunk starts with fragment %q not present in source", first)
		}
	}
}

func TestSplit_HardCutUnbrokenText(t *testing.T) {
	s, _ := NewSplitter(30, 0)

	text := strings.Repeat("x", 100)
	chunks := s.Split(text)
	if len(chunks) != 4 {
		t.Fatalf("Split() = %d chunks, want 4", len(chunks))
	}
	var total int
	for _, c := range chunks {
		if len(c) > 30 {
			t.Errorf("hard cut chunk length = %d, want <= 30", len(c))
		}
		total += len(c)
	}
	if total != 100 {
		t.Errorf("total length = %d, want 100 (no loss)", total)
	}
}

func TestSplit_MultibyteSafe(t *testing.T) {
	s, _ := NewSplitter(10, 0)

	text := strings.Repeat("é", 25)
	for _, c := range s.Split(text) {
		if !strings.HasPrefix(c, "é") {
			t.Errorf("chunk %q starts with a broken rune", c)
		}
	}
}
