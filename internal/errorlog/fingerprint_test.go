package errorlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprintStableAcrossLineNumbers(t *testing.T) {
	a := "Error: boom\n    at fetchPrice (/home/alice/bot/skills/price/index.js:42:13)\n    at run (/home/alice/bot/router.js:101:5)"
	b := "Error: boom\n    at fetchPrice (/home/alice/bot/skills/price/index.js:57:2)\n    at run (/home/alice/bot/router.js:99:1)"
	assert.Equal(t, Fingerprint(a), Fingerprint(b),
		"line/column drift must not change the fingerprint")
}

func TestFingerprintStableAcrossEnvironments(t *testing.T) {
	a := "Error: boom\n    at fetchPrice (/home/alice/bot/skills/price/index.js:42:13)"
	b := "Error: boom\n    at fetchPrice (/opt/deploy/bot/skills/price/index.js:42:13)"
	assert.Equal(t, Fingerprint(a), Fingerprint(b),
		"absolute path prefixes must not change the fingerprint")
}

func TestFingerprintDistinguishesFunctions(t *testing.T) {
	a := "Error: boom\n    at fetchPrice (/bot/skills/price/index.js:42:13)"
	b := "Error: boom\n    at fetchQuote (/bot/skills/price/index.js:42:13)"
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

func TestFingerprintTopFiveFrames(t *testing.T) {
	base := "Error: boom\n"
	frames := ""
	for _, fn := range []string{"a", "b", "c", "d", "e"} {
		frames += "    at " + fn + " (/bot/x.js:1:1)\n"
	}
	// A sixth frame beyond the top five must not affect identity.
	assert.Equal(t,
		Fingerprint(base+frames),
		Fingerprint(base+frames+"    at f (/bot/y.js:9:9)\n"))
}

func TestFingerprintEmptyStack(t *testing.T) {
	assert.Equal(t, NoStackFingerprint, Fingerprint(""))
	assert.Equal(t, NoStackFingerprint, Fingerprint("   \n  "))
}

func TestFingerprintFormat(t *testing.T) {
	fp := Fingerprint("Error: x\n    at f (/a/b.js:1:1)")
	assert.Regexp(t, "^[0-9a-f]{12}$", fp)
}

func TestFingerprintGoRuntimeStack(t *testing.T) {
	a := "goroutine 7 [running]:\nmain.fetch(0x0)\n\t/home/alice/bot/main.go:42 +0x1b\nmain.run()\n\t/home/alice/bot/main.go:10 +0x30\n"
	b := "goroutine 9 [running]:\nmain.fetch(0x0)\n\t/srv/bot/main.go:57 +0x2f\nmain.run()\n\t/srv/bot/main.go:12 +0x44\n"
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
}
