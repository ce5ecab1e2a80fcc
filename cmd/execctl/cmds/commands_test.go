package cmds

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cosiner/argv"
	"github.com/google/go-dap"

	"github.com/go-delve/execctl/pkg/config"
	protest "github.com/go-delve/execctl/pkg/proc/test"
)

func TestCommandTree(t *testing.T) {
	root := New(false)
	for _, name := range []string{"run", "events", "version", "log"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Errorf("subcommand %s not found: %v", name, err)
		}
	}
	for _, flag := range []string{"log", "log-output", "log-dest", "config", "init", "record"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("flag --%s missing", flag)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := New(false)
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "execctl\nVersion: ") {
		t.Fatalf("wrong output %q", buf.String())
	}
}

func TestProgramRequired(t *testing.T) {
	for _, name := range []string{"run", "events"} {
		root := New(false)
		root.SetOut(io.Discard)
		root.SetErr(io.Discard)
		root.SetArgs([]string{name})
		if err := root.Execute(); err == nil || err.Error() != "you must provide a program description" {
			t.Errorf("%s without a program: %v", name, err)
		}
	}
}

func TestEventsFlags(t *testing.T) {
	root := New(false)
	events, _, err := root.Find([]string{"events"})
	if err != nil {
		t.Fatal(err)
	}
	if err := events.ParseFlags([]string{"-b", "add", "--break", "main:10,straight", "--no-thread-events"}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		eventBreakpoints = nil
		noThreadEvents = false
	}()
	tgt := []string{"add", "main:10", "straight"}
	if len(eventBreakpoints) != len(tgt) {
		t.Fatalf("expected %q, got %q", tgt, eventBreakpoints)
	}
	for i := range tgt {
		if eventBreakpoints[i] != tgt[i] {
			t.Fatalf("expected %q, got %q", tgt, eventBreakpoints)
		}
	}
	if !noThreadEvents {
		t.Fatal("--no-thread-events not set")
	}
}

func TestRunFlags(t *testing.T) {
	root := New(false)
	run, _, err := root.Find([]string{"run"})
	if err != nil {
		t.Fatal(err)
	}
	if addr != "127.0.0.1:0" {
		t.Fatalf("wrong default listen address %q", addr)
	}
	if err := run.ParseFlags([]string{"--headless", "-l", "localhost:4040", "--accept-multiclient"}); err != nil {
		t.Fatal(err)
	}
	defer func() {
		headless = false
		acceptMulti = false
	}()
	if !headless || !acceptMulti || addr != "localhost:4040" {
		t.Fatalf("flags not parsed: headless=%v accept-multiclient=%v listen=%q", headless, acceptMulti, addr)
	}
}

func TestJoinArgs(t *testing.T) {
	in := []string{"plain", "two words", "it's", `back\slash "q"`, "", "a|b"}
	s := joinArgs(in)
	v, err := argv.Argv(s, func(s string) (string, error) {
		return "", errors.New("backtick")
	}, nil)
	if err != nil {
		t.Fatalf("could not parse %q: %v", s, err)
	}
	if len(v) != 1 {
		t.Fatalf("%q parsed as a pipeline", s)
	}
	out := v[0]
	if len(out) != len(in) {
		t.Fatalf("expected %#v, got %#v (len mismatch) from %q", in, out, s)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("expected %#v, got %#v (mismatch at %d) from %q", in, out, i, s)
		}
	}
}

func readEvents(t *testing.T, buf *bytes.Buffer) []dap.Message {
	t.Helper()
	r := bufio.NewReader(buf)
	var msgs []dap.Message
	for {
		msg, err := dap.ReadProtocolMessage(r)
		if errors.Is(err, io.EOF) {
			return msgs
		}
		if err != nil {
			t.Fatalf("could not decode event %d: %v", len(msgs), err)
		}
		msgs = append(msgs, msg)
	}
}

func TestStreamEvents(t *testing.T) {
	conf := config.Default()
	program := filepath.Join(protest.FindFixturesDir(), "simple.yml")

	var out, errOut bytes.Buffer
	if status := streamEvents(&out, &errOut, debuggerConfig(conf, program, nil), conf, []string{"add"}); status != 0 {
		t.Fatalf("exit status %d: %s", status, errOut.String())
	}

	var stops, continues, threadEvents int
	var exited *dap.ExitedEvent
	var terminated bool
	for _, msg := range readEvents(t, &out) {
		switch e := msg.(type) {
		case *dap.StoppedEvent:
			if e.Body.Reason != "breakpoint" {
				t.Errorf("wrong stop reason %q", e.Body.Reason)
			}
			stops++
		case *dap.ContinuedEvent:
			continues++
		case *dap.ThreadEvent:
			threadEvents++
		case *dap.ExitedEvent:
			exited = e
		case *dap.TerminatedEvent:
			terminated = true
		}
	}
	if stops != 2 || continues < 3 {
		t.Errorf("%d stops and %d continues", stops, continues)
	}
	if threadEvents == 0 {
		t.Error("no thread events")
	}
	if exited == nil || exited.Body.ExitCode != 0 || !terminated {
		t.Errorf("exit not reported: %#v %v", exited, terminated)
	}
}

func TestStreamEventsNoThreadEvents(t *testing.T) {
	noThreadEvents = true
	defer func() { noThreadEvents = false }()
	conf := config.Default()
	program := filepath.Join(protest.FindFixturesDir(), "threads.yml")

	var out, errOut bytes.Buffer
	if status := streamEvents(&out, &errOut, debuggerConfig(conf, program, nil), conf, nil); status != 0 {
		t.Fatalf("exit status %d: %s", status, errOut.String())
	}
	for _, msg := range readEvents(t, &out) {
		if _, ok := msg.(*dap.ThreadEvent); ok {
			t.Fatal("thread event sent")
		}
	}
}

func TestStreamEventsErrors(t *testing.T) {
	conf := config.Default()
	fixtures := protest.FindFixturesDir()
	for _, tc := range []struct {
		program string
		bps     []string
		errstr  string
	}{
		{filepath.Join(fixtures, "nosuch.yml"), nil, "could not load"},
		{filepath.Join(fixtures, "simple.yml"), []string{"nosuch"}, "could not set breakpoint at nosuch"},
	} {
		var out, errOut bytes.Buffer
		if status := streamEvents(&out, &errOut, debuggerConfig(conf, tc.program, nil), conf, tc.bps); status != 1 {
			t.Errorf("%s: exit status %d", tc.program, status)
		}
		if !strings.Contains(errOut.String(), tc.errstr) {
			t.Errorf("%s: expected %q in %q", tc.program, tc.errstr, errOut.String())
		}
	}
}
