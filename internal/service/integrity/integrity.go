package integrity

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ifuryst/reelwave/internal/models"
)

// ErrViolation matches every *Violation via errors.Is
var ErrViolation = errors.New("content integrity violation")

type Reason string

const (
	ReasonFingerprintMismatch Reason = "fingerprint_mismatch"
	ReasonDuplicateTitle      Reason = "duplicate_title"
	ReasonMissingVideo        Reason = "missing_video"
	ReasonCountMismatch       Reason = "count_mismatch"
	ReasonIndexMismatch       Reason = "index_mismatch"
	ReasonEmptyBatch          Reason = "empty_batch"
	ReasonBatchFailed         Reason = "batch_failed"
)

// Violation names the batch item that blocked a dispatch. ScriptIndex is -1
// for batch-level violations.
type Violation struct {
	Reason      Reason `json:"reason"`
	BatchID     string `json:"batch_id"`
	ScriptIndex int    `json:"script_index"`
	Title       string `json:"title,omitempty"`
	Detail      string `json:"detail"`
}

func (v *Violation) Error() string {
	if v.ScriptIndex < 0 {
		return fmt.Sprintf("%s: batch %s: %s", ErrViolation, v.BatchID, v.Detail)
	}
	return fmt.Sprintf("%s: batch %s item %d (%q): %s", ErrViolation, v.BatchID, v.ScriptIndex, v.Title, v.Detail)
}

func (v *Violation) Unwrap() error {
	return ErrViolation
}

// Fingerprint returns the hex SHA-256 digest of content
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether content still matches its stored fingerprint
func Verify(content, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(Fingerprint(content)), []byte(strings.ToLower(storedHash))) == 1
}

// CheckDispatch runs every pre-dispatch check over a batch and its scripts,
// which must be ordered by index. It returns the first *Violation found.
func CheckDispatch(batch *models.ScriptBatch, scripts []models.BatchScript) error {
	violation := func(reason Reason, index int, title, detail string) error {
		return &Violation{Reason: reason, BatchID: batch.BatchID, ScriptIndex: index, Title: title, Detail: detail}
	}

	if batch.Status == models.BatchStatusFailed {
		return violation(ReasonBatchFailed, -1, "", "batch is marked failed")
	}
	if len(scripts) == 0 {
		return violation(ReasonEmptyBatch, -1, "", "batch has no scripts")
	}
	if batch.ScriptCount != len(scripts) {
		return violation(ReasonCountMismatch, -1, "",
			fmt.Sprintf("declared %d scripts but %d are stored", batch.ScriptCount, len(scripts)))
	}

	claimsVideos := batch.Status == models.BatchStatusVideosGenerated || batch.Status == models.BatchStatusSlackSent
	titles := make(map[string]int, len(scripts))

	for position, script := range scripts {
		if script.ScriptIndex != position {
			return violation(ReasonIndexMismatch, script.ScriptIndex, script.Title,
				fmt.Sprintf("index %d found at position %d", script.ScriptIndex, position))
		}
		if !Verify(script.Content, script.ContentHash) {
			return violation(ReasonFingerprintMismatch, script.ScriptIndex, script.Title,
				"content no longer matches its fingerprint")
		}

		key := normalizeTitle(script.Title)
		if first, ok := titles[key]; ok {
			return violation(ReasonDuplicateTitle, script.ScriptIndex, script.Title,
				fmt.Sprintf("title duplicates item %d", first))
		}
		titles[key] = script.ScriptIndex

		if claimsVideos && !script.HasVideo() {
			return violation(ReasonMissingVideo, script.ScriptIndex, script.Title,
				"batch reports videos generated but item has no finished video")
		}
	}
	return nil
}

func normalizeTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
