package output

import (
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/dotcommander/chord/internal/models"
)

// Response represents a standard JSON response
type Response struct {
	SchemaVersion   string            `json:"schema_version"`
	Success         bool              `json:"success"`
	Data            interface{}       `json:"data,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorCode       string            `json:"error_code,omitempty"`
	ErrorContext    map[string]string `json:"error_context,omitempty"`
	SuggestedAction string            `json:"suggested_action,omitempty"`
}

// Success wraps a successful response with data
func Success(data interface{}) Response {
	return Response{
		SchemaVersion: "v1",
		Success:       true,
		Data:          data,
	}
}

// Error wraps an error in a response. Recoverable errors carry their code,
// context and suggested action so module callers can react without parsing
// the message text.
func Error(err error) Response {
	r := Response{
		SchemaVersion: "v1",
		Success:       false,
		Error:         err.Error(),
	}
	var rec models.RecoverableError
	if errors.As(err, &rec) {
		r.ErrorCode = rec.ErrorCode()
		r.ErrorContext = rec.Context()
		r.SuggestedAction = rec.SuggestedAction()
	}
	return r
}

// Config controls where and how JSON is written.
type Config struct {
	Writer io.Writer
	Pretty bool
}

// DefaultConfig writes to stdout. Output is compact JSON to minimize
// token/output size for module consumption; pretty JSON for humans is
// enabled via env var: CHORD_PRETTY_JSON=1.
func DefaultConfig() Config {
	pretty := os.Getenv("CHORD_PRETTY_JSON") == "1" || os.Getenv("CHORD_PRETTY_JSON") == "true"
	return Config{Writer: os.Stdout, Pretty: pretty}
}

// PrintWith encodes v as JSON per cfg.
func PrintWith(cfg Config, v interface{}) error {
	enc := json.NewEncoder(cfg.Writer)
	if cfg.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(v)
}

// Print prints a value as JSON to stdout
func Print(v interface{}) error {
	return PrintWith(DefaultConfig(), v)
}

// PrintSuccess prints a success response
func PrintSuccess(data interface{}) error {
	return Print(Success(data))
}

// PrintError prints an error response
func PrintError(err error) error {
	return Print(Error(err))
}

// Keep output package focused: commands should handle human-readable formatting.
