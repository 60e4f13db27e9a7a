package autofix

import (
	"context"
	"fmt"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"skillkeeper/internal/ai"
	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/improve"
	"skillkeeper/internal/types"
)

// GenerateFix synthesizes a patch for a proposal. The fix lands in ready
// state; applying it is a separate, explicitly approved step.
func (e *Engine) GenerateFix(ctx context.Context, proposalID string) (*Fix, error) {
	proposal, ok := e.loop.Get(proposalID)
	if !ok {
		return nil, fmt.Errorf("proposal not found: %s", proposalID)
	}

	e.emitter.Emit(events.TypeFixGenerating, proposal.Skill, map[string]any{
		"proposalId": proposalID,
	})

	fix, err := e.generate(ctx, proposal)
	if err != nil {
		e.emitter.Emit(events.TypeFixFailed, proposal.Skill, map[string]any{
			"proposalId": proposalID,
			"reason":     err.Error(),
		})
		return nil, err
	}

	e.mu.Lock()
	e.fixes = append(e.fixes, fix)
	saveErr := e.saveLocked()
	e.mu.Unlock()
	if saveErr != nil {
		return nil, saveErr
	}

	e.emitter.Emit(events.TypeFixReady, fix.Skill, map[string]any{
		"fixId":      fix.ID,
		"proposalId": proposalID,
		"file":       fix.FilePath,
		"source":     string(fix.Source),
		"diffLines":  len(fix.Diff),
	})
	log.Printf("[AUTOFIX] fix %s ready for %s (%s, %d diff lines)",
		fix.ID, fix.Skill, fix.Source, len(fix.Diff))
	return fix, nil
}

func (e *Engine) generate(ctx context.Context, proposal *improve.Proposal) (*Fix, error) {
	fingerprint, _ := proposal.Data["fingerprint"].(string)

	path, err := e.locateSource(proposal.Skill, fingerprint)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source %s: %w", path, err)
	}
	source := string(src)

	lastErr := e.latestError(fingerprint, proposal.Skill)

	fix := &Fix{
		ID:          types.NewID(),
		ProposalID:  proposal.ID,
		Skill:       proposal.Skill,
		Fingerprint: fingerprint,
		FilePath:    path,
		Status:      FixReady,
		CreatedAt:   types.Timestamp(e.now()),
	}
	if lastErr != nil {
		fix.Classification = lastErr.Classification
	}

	if e.oracle != nil {
		prompt := e.buildPrompt(proposal, lastErr, source)
		response, err := e.oracle.Complete(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("oracle call failed: %w", err)
		}
		parsed, err := ai.ParseFixResponse(response)
		if err != nil {
			return nil, fmt.Errorf("fix synthesis failed: %w", err)
		}
		fix.Source = SourceOracle
		fix.Explanation = parsed.Explanation
		fix.OriginalCode = source
		fix.FixedCode = parsed.Code
	} else {
		classification := fix.Classification
		if classification == "" {
			classification = types.ClassUnknown
		}
		message, errLine := "", 0
		if lastErr != nil {
			message = lastErr.Message
			errLine = offendingLine(lastErr.Stack, path)
		}
		fixed, explanation, err := templateFix(source, classification, message, errLine)
		if err != nil {
			return nil, fmt.Errorf("template fix failed: %w", err)
		}
		fix.Source = SourceTemplate
		fix.Explanation = explanation
		fix.OriginalCode = source
		fix.FixedCode = fixed
	}

	fix.Diff = diffLines(fix.OriginalCode, fix.FixedCode)
	return fix, nil
}

// latestError returns the most recent error record for the fingerprint, or
// for the skill when no fingerprint is known.
func (e *Engine) latestError(fingerprint, skill string) *errorlog.Entry {
	q := errorlog.Query{Fingerprint: fingerprint, Days: 30}
	if fingerprint == "" {
		q = errorlog.Query{Skill: skill, Days: 30}
	}
	entries, err := e.logger.Query(q)
	if err != nil {
		return nil
	}
	var latest *errorlog.Entry
	for _, entry := range entries {
		if entry.Kind != errorlog.KindError {
			continue
		}
		if latest == nil || entry.Timestamp > latest.Timestamp {
			latest = entry
		}
	}
	return latest
}

func (e *Engine) buildPrompt(proposal *improve.Proposal, lastErr *errorlog.Entry, source string) string {
	var b strings.Builder
	b.WriteString("You are fixing a bug in a bot skill. Produce a corrected version of the file.\n\n")
	fmt.Fprintf(&b, "Issue: %s\n", proposal.Description)
	fmt.Fprintf(&b, "Proposed action: %s\n", proposal.Action)

	if lastErr != nil {
		b.WriteString("\nError details:\n")
		fmt.Fprintf(&b, "Message: %s\n", lastErr.Message)
		fmt.Fprintf(&b, "Classification: %s\n", lastErr.Classification)
		fmt.Fprintf(&b, "Occurrences: %d\n", lastErr.OccurrenceCount)
		if lastErr.InputSummary != "" {
			fmt.Fprintf(&b, "Input: %s\n", lastErr.InputSummary)
		}
		if lastErr.Stack != "" {
			fmt.Fprintf(&b, "Stack:\n%s\n", types.Truncate(lastErr.Stack, 2000))
		}
	}

	if corrections := e.recentCorrections(proposal.Skill, 3); len(corrections) > 0 {
		b.WriteString("\nRecent user corrections for this skill:\n")
		for _, c := range corrections {
			fmt.Fprintf(&b, "- %s (original: %s, corrected: %s)\n",
				c.Reason, types.Truncate(c.Original, 200), types.Truncate(c.Corrected, 200))
		}
	}

	b.WriteString("\nCurrent source:\n```js\n")
	b.WriteString(source)
	b.WriteString("\n```\n\nRules:\n")
	b.WriteString("- Return only the complete fixed file in a single fenced code block.\n")
	b.WriteString("- Do not add new dependencies.\n")
	b.WriteString("- Make the minimum change that fixes the issue.\n")
	b.WriteString("- Start your reply with 'EXPLANATION:' followed by one short paragraph.\n")
	return b.String()
}

func (e *Engine) recentCorrections(skill string, limit int) []*improve.Correction {
	var out []*improve.Correction
	for _, c := range e.loop.Corrections() {
		if c.Skill == skill {
			out = append(out, c)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// offendingLine extracts the line number of the first frame referencing the
// source path, for the null-guard template.
func offendingLine(stack, path string) int {
	re := regexp.MustCompile(regexp.QuoteMeta(path) + `:(\d+):\d+`)
	for _, line := range strings.Split(stack, "\n") {
		if m := re.FindStringSubmatch(line); m != nil {
			n, err := strconv.Atoi(m[1])
			if err == nil {
				return n
			}
		}
	}
	return 0
}

// diffLines compares line by line; a differing pair is emitted as the
// original line prefixed "-" followed by the fixed line prefixed "+".
func diffLines(original, fixed string) []string {
	origLines := strings.Split(original, "\n")
	fixedLines := strings.Split(fixed, "\n")

	var out []string
	max := len(origLines)
	if len(fixedLines) > max {
		max = len(fixedLines)
	}
	for i := 0; i < max; i++ {
		var o, f string
		hasO, hasF := i < len(origLines), i < len(fixedLines)
		if hasO {
			o = origLines[i]
		}
		if hasF {
			f = fixedLines[i]
		}
		switch {
		case hasO && hasF && o != f:
			out = append(out, "- "+o, "+ "+f)
		case hasO && !hasF:
			out = append(out, "- "+o)
		case !hasO && hasF:
			out = append(out, "+ "+f)
		}
	}
	return out
}
