package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// StringArray represents a PostgreSQL text[] type. Other dialects store the
// same literal in a text column.
type StringArray []string

// GormDBDataType picks the column type per dialect
func (StringArray) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "postgres" {
		return "text[]"
	}
	return "text"
}

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		// Handle PostgreSQL array format: {value1,value2,value3}
		trimmed := strings.TrimSuffix(strings.TrimPrefix(v, "{"), "}")
		if trimmed == "" {
			*s = StringArray{}
			return nil
		}

		parts := splitArrayLiteral(trimmed)
		result := make([]string, len(parts))
		for i, part := range parts {
			result[i] = strings.ReplaceAll(strings.Trim(strings.TrimSpace(part), "\""), "\\\"", "\"")
		}
		*s = result
		return nil
	case []byte:
		// Try to parse as JSON first
		var arr []string
		if err := json.Unmarshal(v, &arr); err == nil {
			*s = arr
			return nil
		}
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}

	quoted := make([]string, len(s))
	for i, v := range s {
		escaped := strings.ReplaceAll(v, "\"", "\\\"")
		quoted[i] = fmt.Sprintf("\"%s\"", escaped)
	}

	return fmt.Sprintf("{%s}", strings.Join(quoted, ",")), nil
}

// splitArrayLiteral splits on commas that are not inside double quotes
func splitArrayLiteral(s string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			current.WriteByte(c)
			current.WriteByte(s[i+1])
			i++
		case c == '"':
			inQuotes = !inQuotes
			current.WriteByte(c)
		case c == ',' && !inQuotes:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	return append(parts, current.String())
}

// All lists every persisted model for migration
func All() []interface{} {
	return []interface{}{
		&ScriptBatch{},
		&BatchScript{},
		&RenderedAsset{},
		&ApprovalRequest{},
		&ApprovalDecision{},
		&ScheduledTask{},
		&ErrorLog{},
		&MetricsSample{},
	}
}
