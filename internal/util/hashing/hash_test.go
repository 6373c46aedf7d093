package hashing

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestComputeSHA256(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantHash string
		wantSize int64
	}{
		{
			name:     "empty",
			input:    "",
			wantHash: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
			wantSize: 0,
		},
		{
			name:     "hello",
			input:    "hello",
			wantHash: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
			wantSize: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, size, err := ComputeSHA256(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if hash != tt.wantHash {
				t.Errorf("hash = %s, want %s", hash, tt.wantHash)
			}
			if size != tt.wantSize {
				t.Errorf("size = %d, want %d", size, tt.wantSize)
			}
		})
	}
}

func TestWriterMatchesComputeSHA256(t *testing.T) {
	var buf bytes.Buffer
	hw := NewWriter(&buf)
	if _, err := io.Copy(hw, strings.NewReader("hello")); err != nil {
		t.Fatalf("copy: %v", err)
	}

	want, _, _ := ComputeSHA256(strings.NewReader("hello"))
	if hw.Hash() != want {
		t.Errorf("Hash = %s, want %s", hw.Hash(), want)
	}
	if hw.Size() != 5 {
		t.Errorf("Size = %d, want 5", hw.Size())
	}
	if buf.String() != "hello" {
		t.Errorf("forwarded %q, want %q", buf.String(), "hello")
	}
}
