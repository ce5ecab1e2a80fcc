package test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-delve/execctl/pkg/proc/sim"
)

// Fixture is a test program.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Source is the absolute path of the program description.
	Source string
	// Program is the assembled program.
	Program *sim.Program
}

// Fixtures is a map of Fixture.Name to Fixture.
var Fixtures = make(map[string]Fixture)
var fixturesMu sync.Mutex

func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// BuildFixture assembles the program _fixtures/<name>.yml. Programs are
// assembled once and shared between tests: they are never modified, each
// process gets its own copy of the memory image.
func BuildFixture(name string) Fixture {
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := Fixtures[name]; ok {
		return f
	}

	path := filepath.Join(FindFixturesDir(), name+".yml")
	prog, err := sim.LoadProgram(path)
	if err != nil {
		fmt.Printf("Error assembling %s: %s\n", path, err)
		os.Exit(1)
	}

	source, _ := filepath.Abs(path)
	source = filepath.ToSlash(source)

	Fixtures[name] = Fixture{Name: name, Source: source, Program: prog}
	return Fixtures[name]
}

// RunTestsWithFixtures runs the tests and forgets the assembled fixtures
// afterwards.
func RunTestsWithFixtures(m *testing.M) int {
	status := m.Run()

	fixturesMu.Lock()
	for name := range Fixtures {
		delete(Fixtures, name)
	}
	fixturesMu.Unlock()
	return status
}

var recordingAllowed = map[string]bool{}
var recordingAllowedMu sync.Mutex

// testName returns the name of the top level test t belongs to.
func testName(t testing.TB) string {
	name := t.Name()
	if i := strings.Index(name, "/"); i >= 0 {
		name = name[:i]
	}
	return name
}

// AllowRecording allows the calling test to run its fixture with the
// execution history enabled.
func AllowRecording(t testing.TB) {
	recordingAllowedMu.Lock()
	defer recordingAllowedMu.Unlock()
	name := testName(t)
	t.Logf("enabling recording for %s", name)
	recordingAllowed[name] = true
}

// RecordingAllowed returns true if AllowRecording was called by the test t
// belongs to.
//
// Recording is off by default: the history of every executed instruction
// is kept, which makes long running fixtures slow, and tests that check
// what happens without reverse execution support need it off anyway.
func RecordingAllowed(t testing.TB) bool {
	recordingAllowedMu.Lock()
	defer recordingAllowedMu.Unlock()
	return recordingAllowed[testName(t)]
}

// MustHaveRecordingAllowed skips this test if recording is not allowed.
func MustHaveRecordingAllowed(t testing.TB) {
	if !RecordingAllowed(t) {
		t.Skipf("recording not allowed for %s", testName(t))
	}
}
