package schema

import "strings"

const (
	diagnosticStart = "\r\n\x1b[31m"
	diagnosticEnd   = "\x1b[0m\r\n"
	noticeStart     = "\r\n\x1b[33m"
)

// FormatDiagnostic renders an error line so it stands out in a terminal stream.
func FormatDiagnostic(text string) string {
	return diagnosticStart + strings.TrimSpace(text) + diagnosticEnd
}

// FormatNotice renders a non-error status line such as connect progress.
func FormatNotice(text string) string {
	return noticeStart + strings.TrimSpace(text) + diagnosticEnd
}

// IsDiagnostic reports whether a rendered line was produced by FormatDiagnostic.
func IsDiagnostic(line string) bool {
	return strings.HasPrefix(line, diagnosticStart) && strings.HasSuffix(line, diagnosticEnd)
}
