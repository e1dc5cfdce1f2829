// Package logging provides sanitization helpers for log output. Connection
// strings and generated SQL pass through here before reaching any sink.
package logging

import "regexp"

const (
	// MaxStatementLogLength is the maximum length of a SQL statement to log.
	MaxStatementLogLength = 120
	// RedactedText is the replacement text for sensitive data.
	RedactedText = "[REDACTED]"
)

var (
	// Matches password=xxx, pwd=xxx, pass=xxx in keyword/value conninfo strings.
	passwordPattern = regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`)

	// Matches user:pass@host credentials in URL-style connection strings.
	connStringPattern = regexp.MustCompile(`://[^:/\s]+:[^@\s]+@[^/\s]+`)
)

// SanitizeConnectionString removes credentials from a connection string so it
// can be logged.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(connStr, "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeError sanitizes an error message that might embed connection
// details, e.g. pgx connect failures.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	sanitized := passwordPattern.ReplaceAllString(err.Error(), "${1}="+RedactedText)
	return connStringPattern.ReplaceAllString(sanitized, "://"+RedactedText+"@"+RedactedText)
}

// SanitizeStatement truncates a SQL statement for logging. Grant statements
// carry no secrets, but catalog queries can be long.
func SanitizeStatement(sql string) string {
	if len(sql) > MaxStatementLogLength {
		return sql[:MaxStatementLogLength] + "..."
	}
	return sql
}
