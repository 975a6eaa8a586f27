package logger

import (
	"io"
	"regexp"
)

const (
	redacted    = "[REDACTED]"
	imageMarker = "[IMAGE]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Redactor scrubs credentials and inline camera frames from log output
type Redactor struct {
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		rules: []rule{
			// Camera frames are long base64 runs; they bloat logs
			{regexp.MustCompile(`[A-Za-z0-9+/]{256,}={0,2}`), imageMarker},

			// AWS credentials
			{regexp.MustCompile(`(?:AKIA|ASIA)[0-9A-Z]{16}`), redacted},
			{regexp.MustCompile(`(?i)aws_secret_access_key["\s:=]+[A-Za-z0-9/+=]{40}`), redacted},
			{regexp.MustCompile(`(?i)x-amz-security-token["\s:=]+[^\s"]+`), redacted},

			// Bearer tokens for model servers
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), redacted},

			// Credentials embedded in URLs
			{regexp.MustCompile(`://[^/\s:@"]+:[^/\s@"]+@`), "://" + redacted + "@"},

			// Passwords and generic secrets
			{regexp.MustCompile(`password["\s:=]+[^\s"]+`), redacted},
			{regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`), redacted},
			{regexp.MustCompile(`secret["\s:=]+[^\s"]+`), redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{pattern: re, replacement: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, rl := range r.rules {
		result = rl.pattern.ReplaceAllString(result, rl.replacement)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers never see a short write
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
