package util

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var slugPattern = regexp.MustCompile(`[^\p{Ll}\p{Lo}\p{N}]+`)

// GenerateSlug creates a filename-friendly slug from title
func GenerateSlug(title string) string {
	slug := strings.ToLower(title)

	// Replace spaces and special characters with hyphens
	slug = slugPattern.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")

	// Limit length without splitting a multi-byte character
	if runes := []rune(slug); len(runes) > 50 {
		slug = strings.Trim(string(runes[:50]), "-")
	}

	if slug == "" {
		return "untitled"
	}
	return slug
}

// GenerateScriptFilename creates the deterministic base name of a script's assets.
// The zero-based index keeps names unique inside a batch even when titles collide.
func GenerateScriptFilename(index int, title string) string {
	return fmt.Sprintf("%02d_%s", index+1, GenerateSlug(title))
}

// GenerateAssetFilename creates the fallback name of one rendered (script, footage) combination
func GenerateAssetFilename(index int, title, footageName string, subtitled bool) string {
	name := GenerateScriptFilename(index, title)
	if footageName != "" {
		name += "__" + FootageSlug(footageName)
	}
	if subtitled {
		name += "_sub"
	}
	return name + ".mp4"
}

// NewBatchID returns an externally visible batch identifier: batch_<unix-ms>_<random>
func NewBatchID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("batch_%d_%s", now.UnixMilli(), random)
}

// ParseTags parses tag strings into arrays
func ParseTags(tagStr string) []string {
	if tagStr == "" {
		return []string{}
	}

	// Remove brackets if present
	tagStr = strings.Trim(tagStr, "[]")

	tags := strings.Split(tagStr, ",")
	var cleanTags []string

	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		tag = strings.Trim(tag, "\"'")
		if tag != "" {
			cleanTags = append(cleanTags, tag)
		}
	}

	return cleanTags
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 && i > strings.LastIndex(name, "/") {
		return name[i:]
	}
	return ""
}

// GenerateFootageFilename creates the fallback name of footage uploaded without narration
func GenerateFootageFilename(footageName string) string {
	return "raw__" + FootageSlug(footageName) + ".mp4"
}

// FootageSlug is the slug of a footage name without its extension
func FootageSlug(footageName string) string {
	return GenerateSlug(strings.TrimSuffix(footageName, extOf(footageName)))
}

// SuffixName inserts -suffix before the extension of name
func SuffixName(name, suffix string) string {
	ext := extOf(name)
	return strings.TrimSuffix(name, ext) + "-" + suffix + ext
}
