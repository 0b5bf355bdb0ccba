package objectkey

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestFlatGenerator(t *testing.T) {
	gen := NewFlatGenerator()
	itemID := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	tests := []struct {
		name     string
		metadata *KeyMetadata
		expected string
	}{
		{
			name:     "without filename",
			metadata: nil,
			expected: "items/123e4567-e89b-12d3-a456-426614174000",
		},
		{
			name:     "with filename",
			metadata: &KeyMetadata{FileName: "week 1.pdf"},
			expected: "items/123e4567-e89b-12d3-a456-426614174000/week_1.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := gen.GenerateKey(itemID, tt.metadata)
			if result != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, result)
			}
		})
	}
}

func TestGitLikeGenerator(t *testing.T) {
	gen := NewGitLikeGenerator()
	itemID := uuid.MustParse("987fcdeb-51a2-43d1-9f12-345678901234")

	key := gen.GenerateKey(itemID, &KeyMetadata{FileName: "notes.pdf"})
	if !strings.HasPrefix(key, "objects/98/") {
		t.Errorf("expected shard prefix objects/98/, got %s", key)
	}
	if !strings.HasSuffix(key, "_notes.pdf") {
		t.Errorf("expected filename suffix, got %s", key)
	}

	bare := gen.GenerateKey(itemID, nil)
	if bare != "objects/98/7fcdeb51a243d19f12345678901234" {
		t.Errorf("unexpected key without metadata: %s", bare)
	}
}

func TestCategoryGenerator(t *testing.T) {
	gen := NewCategoryGenerator()
	itemID := uuid.MustParse("123e4567-e89b-12d3-a456-426614174000")

	key := gen.GenerateKey(itemID, &KeyMetadata{
		FileName: "paper.pdf",
		Course:   "CS",
		Term:     "Fall 2024",
		Subject:  "CS201",
		Kind:     "past-questions",
	})
	expected := "cs/fall_2024/cs201/past-questions/123e4567-e89b-12d3-a456-426614174000_paper.pdf"
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}

	partial := gen.GenerateKey(itemID, &KeyMetadata{Course: "CS"})
	if !strings.HasPrefix(partial, "cs/uncategorized/uncategorized/uncategorized/") {
		t.Errorf("expected fallback components, got %s", partial)
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "git-like", "flat", "category"} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q) returned error: %v", name, err)
		}
	}
	if _, err := ByName("bogus"); err == nil {
		t.Error("expected error for unknown generator")
	}
}
