package errorlog

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// NoStackFingerprint is the sentinel for a missing or empty stack.
const NoStackFingerprint = "no-stack"

var (
	// line:column suffixes and Go frame offsets. Stripping these makes the
	// fingerprint stable when the same function moves to a different line.
	lineColRegex = regexp.MustCompile(`:\d+(?::\d+)?`)
	offsetRegex  = regexp.MustCompile(`\s\+0x[0-9a-f]+`)

	// absolute path prefixes, unix and windows
	absPathRegex = regexp.MustCompile(`(?:[A-Za-z]:)?[\\/](?:[^\s()\\/:]+[\\/])+`)

	// file:line references distinguish call-site frames from error headers
	fileLineRegex = regexp.MustCompile(`\.[A-Za-z]{1,4}:\d+`)
)

// Fingerprint derives the 12-hex root-cause identity of a stack trace.
//
// The stack is reduced to its top five call-site frames with line/column
// numbers and absolute path prefixes stripped, joined with "|", then hashed
// with SHA-256 and truncated. The same function at any line in any checkout
// hashes identically.
func Fingerprint(stack string) string {
	if strings.TrimSpace(stack) == "" {
		return NoStackFingerprint
	}

	var frames []string
	for _, line := range strings.Split(stack, "\n") {
		frame := strings.TrimSpace(line)
		if !isCallSite(frame) {
			continue
		}
		frame = offsetRegex.ReplaceAllString(frame, "")
		frame = lineColRegex.ReplaceAllString(frame, "")
		frame = absPathRegex.ReplaceAllString(frame, "")
		frames = append(frames, frame)
		if len(frames) == 5 {
			break
		}
	}
	if len(frames) == 0 {
		return NoStackFingerprint
	}

	sum := sha256.Sum256([]byte(strings.Join(frames, "|")))
	return hex.EncodeToString(sum[:])[:12]
}

// isCallSite reports whether a stack line names a call site rather than the
// error header or other decoration. Covers "at fn (file:1:2)" style frames
// and Go runtime "file.go:123 +0x..." frames; a bare host:port in an error
// header does not qualify.
func isCallSite(line string) bool {
	if strings.HasPrefix(line, "at ") {
		return true
	}
	return fileLineRegex.MatchString(line)
}
