package common

import (
	"encoding/json"
	"io"
	"os"
	"time"
)

type CIResult struct {
	OK         bool     `json:"ok"`
	Title      string   `json:"title"`
	Details    []string `json:"details,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

func PrintCIResult(ok bool, title string, details []string, err error, elapsed time.Duration) {
	writeCIResult(os.Stdout, ok, title, details, err, elapsed)
}

func writeCIResult(w io.Writer, ok bool, title string, details []string, err error, elapsed time.Duration) {
	result := CIResult{OK: ok, Title: title, Details: details, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		result.Error = err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
}
