package objectkey

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator defines the interface for blob key generation strategies
type Generator interface {
	// GenerateKey creates a blob key for an item
	GenerateKey(itemID uuid.UUID, metadata *KeyMetadata) string
}

// KeyMetadata contains information that influences key generation
type KeyMetadata struct {
	FileName string
	OwnerID  string

	// Category classification
	Course  string
	Term    string
	Subject string
	Kind    string
}

// FlatGenerator stores every blob under items/{id}/{filename}
type FlatGenerator struct{}

func NewFlatGenerator() *FlatGenerator {
	return &FlatGenerator{}
}

func (g *FlatGenerator) GenerateKey(itemID uuid.UUID, metadata *KeyMetadata) string {
	if metadata != nil && metadata.FileName != "" {
		return fmt.Sprintf("items/%s/%s", itemID, sanitizeFilename(metadata.FileName))
	}
	return fmt.Sprintf("items/%s", itemID)
}

// GitLikeGenerator provides Git-style sharded storage
// Structure: objects/ab/cd1234ef5678_filename
type GitLikeGenerator struct {
	// ShardLength controls how many characters to use for sharding (default: 2)
	ShardLength int
}

func NewGitLikeGenerator() *GitLikeGenerator {
	return &GitLikeGenerator{
		ShardLength: 2,
	}
}

func (g *GitLikeGenerator) GenerateKey(itemID uuid.UUID, metadata *KeyMetadata) string {
	idStr := strings.ReplaceAll(itemID.String(), "-", "")

	shardLength := g.ShardLength
	if shardLength <= 0 || shardLength > len(idStr) {
		shardLength = 2
	}

	shardDir := idStr[:shardLength]
	filename := idStr[shardLength:]
	if metadata != nil && metadata.FileName != "" {
		filename = fmt.Sprintf("%s_%s", filename, sanitizeFilename(metadata.FileName))
	}

	return fmt.Sprintf("objects/%s/%s", shardDir, filename)
}

// CategoryGenerator groups blobs by category for browsable buckets
// Structure: {course}/{term}/{subject}/{kind}/{id}_filename
type CategoryGenerator struct {
	// Fallback names empty category components
	Fallback string
}

func NewCategoryGenerator() *CategoryGenerator {
	return &CategoryGenerator{Fallback: "uncategorized"}
}

func (g *CategoryGenerator) GenerateKey(itemID uuid.UUID, metadata *KeyMetadata) string {
	if metadata == nil {
		return fmt.Sprintf("%s/%s", g.Fallback, itemID)
	}

	parts := make([]string, 0, 5)
	for _, c := range []string{metadata.Course, metadata.Term, metadata.Subject, metadata.Kind} {
		if c == "" {
			c = g.Fallback
		}
		parts = append(parts, sanitizePathComponent(c))
	}

	name := itemID.String()
	if metadata.FileName != "" {
		name = fmt.Sprintf("%s_%s", name, sanitizeFilename(metadata.FileName))
	}
	parts = append(parts, name)

	return strings.Join(parts, "/")
}

// CustomFuncGenerator allows users to provide their own key generation function
type CustomFuncGenerator struct {
	GenerateFunc func(itemID uuid.UUID, metadata *KeyMetadata) string
}

func NewCustomFuncGenerator(fn func(itemID uuid.UUID, metadata *KeyMetadata) string) *CustomFuncGenerator {
	return &CustomFuncGenerator{
		GenerateFunc: fn,
	}
}

func (g *CustomFuncGenerator) GenerateKey(itemID uuid.UUID, metadata *KeyMetadata) string {
	return g.GenerateFunc(itemID, metadata)
}

var pathReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"*", "_",
	"?", "_",
	"\"", "_",
	"<", "_",
	">", "_",
	"|", "_",
	" ", "_",
)

func sanitizeFilename(filename string) string {
	return pathReplacer.Replace(filename)
}

func sanitizePathComponent(component string) string {
	return strings.ToLower(pathReplacer.Replace(component))
}

// NewRecommendedGenerator returns the recommended generator for new installations
func NewRecommendedGenerator() Generator {
	return NewGitLikeGenerator()
}

// ByName returns a generator for a configuration name ("git-like", "flat", "category").
func ByName(name string) (Generator, error) {
	switch strings.ToLower(name) {
	case "", "git-like", "gitlike":
		return NewGitLikeGenerator(), nil
	case "flat":
		return NewFlatGenerator(), nil
	case "category":
		return NewCategoryGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown object key generator: %s", name)
	}
}
