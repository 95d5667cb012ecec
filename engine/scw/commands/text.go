package commands

import "strings"

const indentation = "  "

// longDesc normalizes a command's long description.
func longDesc(s string) string {
	return strings.TrimSpace(s)
}

// examples normalizes a command's examples to the help indentation.
func examples(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = indentation + strings.TrimSpace(line)
	}

	return strings.Join(lines, "\n")
}

// mustString returns the string value, ignoring the error.
// Safe to use with registered flags where GetString cannot fail.
func mustString(s string, _ error) string { return s }

// mustBool returns the bool value, ignoring the error.
// Safe to use with registered flags where GetBool cannot fail.
func mustBool(b bool, _ error) bool { return b }
