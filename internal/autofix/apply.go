package autofix

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"skillkeeper/internal/events"
	"skillkeeper/internal/types"
)

// ApproveFix marks a ready fix as approved. Approval never auto-applies.
func (e *Engine) ApproveFix(id string) (*Fix, error) {
	fix, err := e.transition(id, FixReady, FixApproved, "")
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.TypeFixApproved, fix.Skill, map[string]any{"fixId": fix.ID})
	return fix, nil
}

// RejectFix marks a ready fix as rejected with a reason.
func (e *Engine) RejectFix(id, reason string) (*Fix, error) {
	fix, err := e.transition(id, FixReady, FixRejected, reason)
	if err != nil {
		return nil, err
	}
	e.emitter.Emit(events.TypeFixRejected, fix.Skill, map[string]any{
		"fixId":  fix.ID,
		"reason": reason,
	})
	return fix, nil
}

func (e *Engine) transition(id string, from, to FixStatus, reason string) (*Fix, error) {
	e.mu.Lock()
	fix, ok := e.findLocked(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("fix not found: %s", id)
	}
	if fix.Status != from {
		e.mu.Unlock()
		return nil, fmt.Errorf("fix %s is %s, expected %s", id, fix.Status, from)
	}
	fix.Status = to
	fix.Reason = reason
	fix.ResolvedAt = types.Timestamp(e.now())
	err := e.saveLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return fix, nil
}

// ApplyFix runs the apply pipeline for an approved fix: back up, overwrite,
// test, then deploy or roll back. The source file is always left either
// fully patched and passing, or byte-identical to the backup.
func (e *Engine) ApplyFix(ctx context.Context, id string) (*Fix, error) {
	e.mu.Lock()
	fix, ok := e.findLocked(id)
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("fix not found: %s", id)
	}
	if fix.Status != FixApproved {
		e.mu.Unlock()
		return nil, fmt.Errorf("fix %s is %s, expected %s", id, fix.Status, FixApproved)
	}
	fix.Status = FixApplying
	err := e.saveLocked()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := e.runPipeline(ctx, fix); err != nil {
		return fix, err
	}

	e.emitter.Emit(events.TypePipelineComplete, fix.Skill, map[string]any{
		"fixId":  fix.ID,
		"status": string(fix.Status),
	})
	return fix, nil
}

func (e *Engine) runPipeline(ctx context.Context, fix *Fix) error {
	// Checkpoint 1: backup
	original, err := os.ReadFile(fix.FilePath)
	if err != nil {
		return e.fail(fix, FixFailed, fmt.Sprintf("failed to read source: %v", err), "")
	}
	backup := filepath.Join(e.dir, backupsDir,
		fmt.Sprintf("%s.%d.bak", filepath.Base(fix.FilePath), e.now().UnixMilli()))
	if err := os.WriteFile(backup, original, 0o644); err != nil {
		return e.fail(fix, FixFailed, fmt.Sprintf("failed to write backup: %v", err), "")
	}
	e.setBackup(fix, backup)

	// Checkpoint 2: overwrite the source
	if err := os.WriteFile(fix.FilePath, []byte(fix.FixedCode), 0o644); err != nil {
		return e.fail(fix, FixFailed, fmt.Sprintf("failed to write fix: %v", err), "")
	}

	// Checkpoint 3: locate the skill's test
	testFile := e.locateTestFile(fix.Skill, fix.FilePath)
	if testFile == "" {
		// No test exists; deploy with an annotation.
		return e.deploy(fix, "", "", "No test file found; deployed without verification")
	}

	// Checkpoint 4: run it under the timeout
	e.setTesting(fix, testFile)
	e.emitter.Emit(events.TypeFixTesting, fix.Skill, map[string]any{
		"fixId": fix.ID,
		"test":  testFile,
	})

	testCtx, cancel := context.WithTimeout(ctx, e.timeout)
	output, testErr := e.runTest(testCtx, testFile)
	cancel()

	// Checkpoint 5: pass unless the output says otherwise
	if testErr != nil || testFailed(output) {
		reason := "test reported failures"
		if testErr != nil {
			reason = fmt.Sprintf("test run failed: %v", testErr)
		}
		if restoreErr := os.WriteFile(fix.FilePath, original, 0o644); restoreErr != nil {
			// A failed restore leaves the patched file in place; that is the
			// one state the pipeline cannot recover from on its own.
			reason = fmt.Sprintf("%s; ROLLBACK FAILED: %v", reason, restoreErr)
		}
		e.emitter.Emit(events.TypeFixRolledBack, fix.Skill, map[string]any{
			"fixId":  fix.ID,
			"reason": reason,
		})
		log.Printf("[AUTOFIX] fix %s rolled back: %s", fix.ID, reason)
		return e.fail(fix, FixRolledBack, reason, output)
	}

	return e.deploy(fix, testFile, output, "")
}

// Checkpoints 6-7: deploy bookkeeping.
func (e *Engine) deploy(fix *Fix, testFile, output, notes string) error {
	e.mu.Lock()
	fix.Status = FixDeployed
	fix.TestFile = testFile
	fix.TestOutput = types.Truncate(output, 2000)
	fix.Notes = notes
	fix.ResolvedAt = types.Timestamp(e.now())
	err := e.saveLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if fix.Fingerprint != "" {
		note := fmt.Sprintf("Auto-fix deployed for %s: %s", fix.Skill, fix.Explanation)
		if _, err := e.logger.RecordFix(fix.Fingerprint, note, map[string]any{"fixId": fix.ID}); err != nil {
			log.Printf("[AUTOFIX] failed to record fix note: %v", err)
		}
	}
	if _, err := e.loop.MarkApplied(fix.ProposalID, "auto-fix "+fix.ID+" deployed"); err != nil {
		log.Printf("[AUTOFIX] failed to mark proposal applied: %v", err)
	}

	e.emitter.Emit(events.TypeFixDeployed, fix.Skill, map[string]any{
		"fixId": fix.ID,
		"file":  fix.FilePath,
	})
	log.Printf("[AUTOFIX] fix %s deployed to %s", fix.ID, fix.FilePath)
	return nil
}

func (e *Engine) fail(fix *Fix, status FixStatus, reason, output string) error {
	e.mu.Lock()
	fix.Status = status
	fix.Reason = reason
	fix.TestOutput = types.Truncate(output, 2000)
	fix.ResolvedAt = types.Timestamp(e.now())
	err := e.saveLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if status == FixFailed {
		e.emitter.Emit(events.TypeFixFailed, fix.Skill, map[string]any{
			"fixId":  fix.ID,
			"reason": reason,
		})
	}
	return nil
}

func (e *Engine) setBackup(fix *Fix, backup string) {
	e.mu.Lock()
	fix.BackupPath = backup
	_ = e.saveLocked()
	e.mu.Unlock()
}

func (e *Engine) setTesting(fix *Fix, testFile string) {
	e.mu.Lock()
	fix.Status = FixTesting
	fix.TestFile = testFile
	_ = e.saveLocked()
	e.mu.Unlock()
}

// testFailed inspects subprocess output: a run fails when it mentions
// "failed" without the "0 failed" summary. Deliberately loose; exit codes
// vary across skill test harnesses.
func testFailed(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "failed") && !strings.Contains(lower, "0 failed")
}

// runNodeTest is the default test runner.
func runNodeTest(ctx context.Context, testFile string) (string, error) {
	cmd := exec.CommandContext(ctx, "node", testFile)
	cmd.Dir = filepath.Dir(testFile)
	out, err := cmd.CombinedOutput()
	return string(out), err
}
