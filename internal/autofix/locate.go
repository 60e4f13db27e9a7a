package autofix

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"skillkeeper/internal/errorlog"
)

// stackFileRegex pulls "path.ext:line:col" style references out of stack
// frames, with or without surrounding parentheses.
var stackFileRegex = regexp.MustCompile(`\(?([^\s()]+\.(?:js|mjs|cjs|ts)):\d+:\d+\)?`)

// skipPathFragments are frames that can never be the skill's own source.
var skipPathFragments = []string{
	"node_modules",
	"node:",
	"error-logger",
	"errorlog",
}

// locateSource resolves the file a fix should patch. It tries the most
// recent error stack for the proposal's fingerprint first, then falls back
// to a skills-directory layout search.
func (e *Engine) locateSource(skill, fingerprint string) (string, error) {
	if fingerprint != "" {
		if path := e.locateFromStack(fingerprint); path != "" {
			return path, nil
		}
	}
	if path := e.locateFromSkillsDir(skill); path != "" {
		return path, nil
	}
	return "", fmt.Errorf("could not locate source file for skill %q", skill)
}

// locateFromStack parses the newest error record sharing the fingerprint and
// returns the first frame file outside dependency and logger paths.
func (e *Engine) locateFromStack(fingerprint string) string {
	entries, err := e.logger.Query(errorlog.Query{Fingerprint: fingerprint, Days: 30})
	if err != nil {
		return ""
	}
	var latest *errorlog.Entry
	for _, entry := range entries {
		if entry.Kind != errorlog.KindError || entry.Stack == "" {
			continue
		}
		if latest == nil || entry.Timestamp > latest.Timestamp {
			latest = entry
		}
	}
	if latest == nil {
		return ""
	}

	for _, line := range strings.Split(latest.Stack, "\n") {
		m := stackFileRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path := m[1]
		if skipFrame(path) {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func skipFrame(path string) bool {
	for _, frag := range skipPathFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	return false
}

// locateFromSkillsDir searches the configured skills directory for a
// subdirectory named after the skill (or x1-{skill}) and picks its entry
// file.
func (e *Engine) locateFromSkillsDir(skill string) string {
	if e.skillsDir == "" || skill == "" {
		return ""
	}
	for _, name := range []string{skill, "x1-" + skill} {
		dir := filepath.Join(e.skillsDir, name)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		for _, entry := range []string{"index.js", "main.js"} {
			path := filepath.Join(dir, entry)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
		if path := firstSourceFile(dir); path != "" {
			return path
		}
	}
	return ""
}

func firstSourceFile(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".js", ".mjs", ".cjs", ".ts":
			return filepath.Join(dir, entry.Name())
		}
	}
	return ""
}

// locateTestFile finds the skill's test entry: test.js in the source
// directory, under tests/, or under the x1-{skill} sibling.
func (e *Engine) locateTestFile(skill, sourcePath string) string {
	var candidates []string
	if sourcePath != "" {
		dir := filepath.Dir(sourcePath)
		candidates = append(candidates,
			filepath.Join(dir, "test.js"),
			filepath.Join(dir, "tests", "test.js"),
		)
	}
	if e.skillsDir != "" && skill != "" {
		candidates = append(candidates,
			filepath.Join(e.skillsDir, skill, "test.js"),
			filepath.Join(e.skillsDir, skill, "tests", "test.js"),
			filepath.Join(e.skillsDir, "x1-"+skill, "test.js"),
			filepath.Join(e.skillsDir, "x1-"+skill, "tests", "test.js"),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}
