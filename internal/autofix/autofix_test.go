package autofix

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillkeeper/internal/ai"
	"skillkeeper/internal/errorlog"
	"skillkeeper/internal/events"
	"skillkeeper/internal/improve"
	"skillkeeper/internal/types"
)

const skillSource = `const https = require('https');

module.exports = async function run(input) {
  const data = await fetch(input.url);
  return data.price;
};
`

type fixture struct {
	engine   *Engine
	loop     *improve.Loop
	logger   *errorlog.Logger
	emitter  *events.Emitter
	skillDir string
	source   string
}

func newFixture(t *testing.T, oracle ai.Oracle, runner TestRunner) *fixture {
	t.Helper()
	dir := t.TempDir()

	logger, err := errorlog.New(&errorlog.Config{Dir: filepath.Join(dir, "errors")})
	require.NoError(t, err)
	emitter := events.NewEmitter()

	loop, err := improve.New(&improve.Config{
		Dir:                 filepath.Join(dir, "improvement-data"),
		Logger:              logger,
		Emitter:             emitter,
		CorrectionThreshold: 2,
	})
	require.NoError(t, err)

	skillsDir := filepath.Join(dir, "skills")
	skillDir := filepath.Join(skillsDir, "price-tracker")
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	source := filepath.Join(skillDir, "index.js")
	require.NoError(t, os.WriteFile(source, []byte(skillSource), 0o644))

	engine, err := New(&Config{
		Dir:        filepath.Join(dir, "autofix-data"),
		SkillsDir:  skillsDir,
		Logger:     logger,
		Loop:       loop,
		Oracle:     oracle,
		Emitter:    emitter,
		TestRunner: runner,
	})
	require.NoError(t, err)

	return &fixture{
		engine:   engine,
		loop:     loop,
		logger:   logger,
		emitter:  emitter,
		skillDir: skillDir,
		source:   source,
	}
}

// pendingProposal trips the correction threshold to mint a real proposal.
func (f *fixture) pendingProposal(t *testing.T) *improve.Proposal {
	t.Helper()
	for i := 0; i < 2; i++ {
		_, err := f.loop.RecordCorrection("price-tracker", "a", "b", "wrong price source", nil)
		require.NoError(t, err)
	}
	pending := f.loop.Proposals(improve.ProposalFilter{Status: improve.ProposalPending})
	require.Len(t, pending, 1)
	return pending[0]
}

func cannedOracle(code string) ai.Oracle {
	return ai.OracleFunc(func(ctx context.Context, prompt string) (string, error) {
		return fmt.Sprintf("EXPLANATION: switched to the primary price source.\n\n```js\n%s\n```", code), nil
	})
}

func TestGenerateFixWithOracle(t *testing.T) {
	fixedCode := strings.Replace(skillSource, "data.price", "data.price ?? 0", 1)
	f := newFixture(t, cannedOracle(fixedCode), nil)
	proposal := f.pendingProposal(t)

	var eventTypes []events.Type
	for _, et := range []events.Type{events.TypeFixGenerating, events.TypeFixReady} {
		et := et
		f.emitter.On(et, func(*events.Event) { eventTypes = append(eventTypes, et) })
	}

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)

	assert.Equal(t, FixReady, fix.Status)
	assert.Equal(t, SourceOracle, fix.Source)
	assert.Equal(t, f.source, fix.FilePath)
	assert.Equal(t, "switched to the primary price source.", fix.Explanation)
	assert.NotEmpty(t, fix.Diff)
	assert.Equal(t, []events.Type{events.TypeFixGenerating, events.TypeFixReady}, eventTypes)

	// Generation alone never touches the source file.
	onDisk, err := os.ReadFile(f.source)
	require.NoError(t, err)
	assert.Equal(t, skillSource, string(onDisk))
}

func TestGenerateFixOracleGarbageFails(t *testing.T) {
	oracle := ai.OracleFunc(func(context.Context, string) (string, error) {
		return "I am unable to help with that.", nil
	})
	f := newFixture(t, oracle, nil)
	proposal := f.pendingProposal(t)

	failed := 0
	f.emitter.On(events.TypeFixFailed, func(*events.Event) { failed++ })

	_, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	assert.Error(t, err)
	assert.Equal(t, 1, failed)
	assert.Empty(t, f.engine.Fixes())
}

func TestApplyDeploysOnPassingTest(t *testing.T) {
	fixedCode := strings.Replace(skillSource, "data.price", "data.price ?? 0", 1)
	runner := func(ctx context.Context, testFile string) (string, error) {
		return "3 passed, 0 failed", nil
	}
	f := newFixture(t, cannedOracle(fixedCode), runner)
	require.NoError(t, os.WriteFile(filepath.Join(f.skillDir, "test.js"), []byte("// test"), 0o644))
	proposal := f.pendingProposal(t)

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)
	_, err = f.engine.ApproveFix(fix.ID)
	require.NoError(t, err)

	var seen []events.Type
	for _, et := range []events.Type{events.TypeFixTesting, events.TypeFixDeployed, events.TypePipelineComplete} {
		et := et
		f.emitter.On(et, func(*events.Event) { seen = append(seen, et) })
	}

	applied, err := f.engine.ApplyFix(context.Background(), fix.ID)
	require.NoError(t, err)
	assert.Equal(t, FixDeployed, applied.Status)
	assert.Equal(t, "3 passed, 0 failed", applied.TestOutput)
	assert.Equal(t, []events.Type{events.TypeFixTesting, events.TypeFixDeployed, events.TypePipelineComplete}, seen)

	onDisk, err := os.ReadFile(f.source)
	require.NoError(t, err)
	assert.Equal(t, fixedCode, string(onDisk))

	// Backup captured the pre-apply bytes.
	require.NotEmpty(t, applied.BackupPath)
	backup, err := os.ReadFile(applied.BackupPath)
	require.NoError(t, err)
	assert.Equal(t, skillSource, string(backup))

	// The originating proposal is now applied.
	got, ok := f.loop.Get(proposal.ID)
	require.True(t, ok)
	assert.Equal(t, improve.ProposalApplied, got.Status)
}

// A failing test run restores the source byte-for-byte and leaves the
// proposal approved, not applied.
func TestApplyRollsBackOnFailingTest(t *testing.T) {
	fixedCode := strings.Replace(skillSource, "data.price", "data.price ?? 0", 1)
	runner := func(ctx context.Context, testFile string) (string, error) {
		return "2 passed, 1 failed", nil
	}
	f := newFixture(t, cannedOracle(fixedCode), runner)
	require.NoError(t, os.WriteFile(filepath.Join(f.skillDir, "test.js"), []byte("// test"), 0o644))
	proposal := f.pendingProposal(t)

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)
	_, err = f.engine.ApproveFix(fix.ID)
	require.NoError(t, err)
	_, err = f.loop.Approve(proposal.ID)
	require.NoError(t, err)

	rolledBack := 0
	f.emitter.On(events.TypeFixRolledBack, func(*events.Event) { rolledBack++ })

	applied, err := f.engine.ApplyFix(context.Background(), fix.ID)
	require.NoError(t, err)
	assert.Equal(t, FixRolledBack, applied.Status)
	assert.Equal(t, "2 passed, 1 failed", applied.TestOutput)
	assert.Equal(t, 1, rolledBack)

	onDisk, err := os.ReadFile(f.source)
	require.NoError(t, err)
	assert.Equal(t, skillSource, string(onDisk), "rollback must restore pre-apply bytes")

	require.NotEmpty(t, applied.BackupPath)
	_, err = os.Stat(applied.BackupPath)
	assert.NoError(t, err, "backup file remains after rollback")

	got, ok := f.loop.Get(proposal.ID)
	require.True(t, ok)
	assert.Equal(t, improve.ProposalApproved, got.Status, "proposal stays approved after rollback")
}

func TestApplyWithoutTestFileDeploysAnnotated(t *testing.T) {
	fixedCode := strings.Replace(skillSource, "data.price", "data.price ?? 0", 1)
	f := newFixture(t, cannedOracle(fixedCode), func(context.Context, string) (string, error) {
		t.Fatal("runner must not be called without a test file")
		return "", nil
	})
	proposal := f.pendingProposal(t)

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)
	_, err = f.engine.ApproveFix(fix.ID)
	require.NoError(t, err)

	applied, err := f.engine.ApplyFix(context.Background(), fix.ID)
	require.NoError(t, err)
	assert.Equal(t, FixDeployed, applied.Status)
	assert.Contains(t, applied.Notes, "No test file found")
}

func TestApplyRequiresApproval(t *testing.T) {
	fixedCode := strings.Replace(skillSource, "data.price", "data.price ?? 0", 1)
	f := newFixture(t, cannedOracle(fixedCode), nil)
	proposal := f.pendingProposal(t)

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)

	_, err = f.engine.ApplyFix(context.Background(), fix.ID)
	assert.Error(t, err, "ready fixes cannot be applied before approval")

	_, err = f.engine.RejectFix(fix.ID, "too invasive")
	require.NoError(t, err)
	_, err = f.engine.ApproveFix(fix.ID)
	assert.Error(t, err, "rejected fixes cannot be approved")
}

func TestTemplateFixValidation(t *testing.T) {
	fixed, explanation, err := templateFix(skillSource, types.ClassValidation, "", 0)
	require.NoError(t, err)
	assert.Contains(t, fixed, "[AUTO-FIX] input validation")
	assert.Contains(t, explanation, "validation")
	// Injected directly after the entry function opens.
	assert.Less(t, strings.Index(fixed, "[AUTO-FIX]"), strings.Index(fixed, "const data"))
}

func TestTemplateFixRetryAfterRequires(t *testing.T) {
	for _, class := range []types.Classification{types.ClassAPI, types.ClassNetwork} {
		fixed, _, err := templateFix(skillSource, class, "", 0)
		require.NoError(t, err)
		assert.Contains(t, fixed, "[AUTO-FIX] retry helper")
		assert.Less(t, strings.Index(fixed, "require('https')"), strings.Index(fixed, "autoFixRetry"))
	}
}

func TestTemplateFixTimeout(t *testing.T) {
	fixed, _, err := templateFix(skillSource, types.ClassTimeout, "", 0)
	require.NoError(t, err)
	assert.Contains(t, fixed, "[AUTO-FIX] timeout helper")
	assert.Contains(t, fixed, "Promise.race")
}

func TestTemplateFixNullGuard(t *testing.T) {
	// Line 5 is "  return data.price;"
	fixed, explanation, err := templateFix(skillSource, types.ClassLogic,
		"Cannot read properties of undefined (reading 'price')", 5)
	require.NoError(t, err)
	assert.Contains(t, fixed, "[AUTO-FIX] null-check guard")
	assert.Contains(t, fixed, "if (data === undefined || data === null)")
	assert.Contains(t, explanation, "line 5")
}

func TestTemplateFixLogicFallsBackToTryCatch(t *testing.T) {
	fixed, _, err := templateFix(skillSource, types.ClassLogic, "x is not a function", 0)
	require.NoError(t, err)
	assert.Contains(t, fixed, "[AUTO-FIX] error containment")
	assert.Contains(t, fixed, "try {")
	assert.Contains(t, fixed, "} catch (err) {")

	unknown, _, err := templateFix(skillSource, types.ClassUnknown, "", 0)
	require.NoError(t, err)
	assert.Contains(t, unknown, "[AUTO-FIX] error containment")
}

func TestTemplateFixUsedWhenNoOracle(t *testing.T) {
	f := newFixture(t, nil, nil)
	proposal := f.pendingProposal(t)

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, SourceTemplate, fix.Source)
	assert.Contains(t, fix.FixedCode, "[AUTO-FIX]")
}

func TestDiffLines(t *testing.T) {
	diff := diffLines("a\nb\nc", "a\nB\nc\nd")
	assert.Equal(t, []string{"- b", "+ B", "+ d"}, diff)

	assert.Empty(t, diffLines("same\nlines", "same\nlines"))
}

func TestLocateFromStackPrefersOwnFrames(t *testing.T) {
	f := newFixture(t, nil, nil)

	stack := fmt.Sprintf(`TypeError: Cannot read properties of undefined (reading 'price')
    at run (%s:4:21)
    at process (/app/node_modules/runner/lib/exec.js:88:10)`, f.source)
	entry, err := f.logger.CaptureError(errorlog.Capture{
		Err:   &errorlog.SkillError{Message: "Cannot read properties of undefined (reading 'price')", Stack: stack},
		Skill: "price-tracker",
	})
	require.NoError(t, err)

	path, err := f.engine.locateSource("price-tracker", entry.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, f.source, path)
}

func TestLocateFallsBackToSkillsDir(t *testing.T) {
	f := newFixture(t, nil, nil)

	path, err := f.engine.locateSource("price-tracker", "")
	require.NoError(t, err)
	assert.Equal(t, f.source, path)

	_, err = f.engine.locateSource("no-such-skill", "")
	assert.Error(t, err)
}

func TestFixesPersistAcrossRestart(t *testing.T) {
	fixedCode := strings.Replace(skillSource, "data.price", "data.price ?? 0", 1)
	f := newFixture(t, cannedOracle(fixedCode), nil)
	proposal := f.pendingProposal(t)

	fix, err := f.engine.GenerateFix(context.Background(), proposal.ID)
	require.NoError(t, err)

	reloaded, err := New(&Config{
		Dir:       f.engine.dir,
		SkillsDir: f.engine.skillsDir,
		Logger:    f.logger,
		Loop:      f.loop,
	})
	require.NoError(t, err)

	got, ok := reloaded.Get(fix.ID)
	require.True(t, ok)
	assert.Equal(t, FixReady, got.Status)
	assert.Equal(t, fix.FixedCode, got.FixedCode)
}

func TestTestFailedHeuristic(t *testing.T) {
	assert.False(t, testFailed("5 passed, 0 failed"))
	assert.False(t, testFailed("all good"))
	assert.True(t, testFailed("2 passed, 1 failed"))
	assert.True(t, testFailed("Test run FAILED"))
}
