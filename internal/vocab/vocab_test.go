package vocab

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewRequiresPadToken(t *testing.T) {
	if _, err := New([]string{"a", "b"}); err == nil {
		t.Error("vocabulary without pad token must fail")
	}
	if _, err := New(nil); err == nil {
		t.Error("empty vocabulary must fail")
	}
	if _, err := New([]string{PadToken, "a", "a"}); err == nil {
		t.Error("duplicate token must fail")
	}
}

func TestEncodeDecode(t *testing.T) {
	v, err := New([]string{PadToken, "header", "{", "}", "btn"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if v.Size() != 5 {
		t.Fatalf("Size = %d, want 5", v.Size())
	}
	if v.PadIndex() != 0 {
		t.Fatalf("PadIndex = %d, want 0", v.PadIndex())
	}

	ids, err := v.Encode([]string{"header", "{", "btn", "}"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	want := []int{1, 2, 4, 3}
	for i, w := range want {
		if ids[i] != w {
			t.Fatalf("Encode = %v, want %v", ids, want)
		}
	}

	tokens, err := v.Decode(ids)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for i, tok := range []string{"header", "{", "btn", "}"} {
		if tokens[i] != tok {
			t.Fatalf("Decode = %v", tokens)
		}
	}

	if _, err := v.Encode([]string{"missing"}); err == nil {
		t.Error("unknown token must fail")
	}
	if _, err := v.Decode([]int{99}); err == nil {
		t.Error("out-of-range id must fail")
	}
	if _, ok := v.Lookup("header"); !ok {
		t.Error("Lookup missed a known token")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.txt")
	content := PadToken + "\nheader\nrow\n\nbtn\r\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	v, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// Blank line skipped, trailing carriage return stripped.
	if v.Size() != 4 {
		t.Fatalf("Size = %d, want 4", v.Size())
	}
	if id, ok := v.Lookup("btn"); !ok || id != 3 {
		t.Fatalf("btn id = %d (ok=%v), want 3", id, ok)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("missing file must fail")
	}
}
