package logflags

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	if loggerFactory != nil {
		t.Fatalf("expected loggerFactory to be nil; but was <%v>", loggerFactory)
	}
	defer func() {
		loggerFactory = nil
	}()
	if logOut != nil {
		t.Fatalf("expected logOut to be nil; but was <%v>", logOut)
	}
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		if level != logrus.TraceLevel {
			t.Fatalf("expected level to be <%v>; but was <%v>", logrus.TraceLevel, level)
		}
		if len(fields) != 1 || fields["foo"] != "bar" {
			t.Fatalf("expected fields to be {'foo':'bar'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(logrus.TraceLevel, Fields{"foo": "bar"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeFlaggableLogger(t *testing.T) {
	for _, tc := range []struct {
		flag  bool
		level logrus.Level
	}{
		{false, logrus.ErrorLevel},
		{true, logrus.DebugLevel},
	} {
		actual := makeFlaggableLogger(tc.flag, Fields{"foo": "bar"})
		actualEntry, ok := actual.(*logrusLogger)
		if !ok {
			t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
		}
		if actualEntry.Entry.Logger.Level != tc.level {
			t.Fatalf("flag %v: expected level <%v>; but was <%v>", tc.flag, tc.level, actualEntry.Logger.Level)
		}
		if len(actualEntry.Entry.Data) != 1 || actualEntry.Data["foo"] != "bar" {
			t.Fatalf("expected actualEntry.Entry.Data to be {'foo':'bar'}; but was <%v>", actualEntry.Data)
		}
	}
}

func TestTextFormatterLayerFirst(t *testing.T) {
	buf := &bufferWriter{}
	logOut = buf
	defer func() {
		logOut = nil
	}()
	l := makeFlaggableLogger(true, Fields{"layer": "proc", "kind": "infrun"})
	l.WithField("thread", 3).Debugf("stopped")
	out := buf.String()
	if !strings.Contains(out, "debug layer=proc kind=infrun thread=3 stopped") {
		t.Fatalf("unexpected log line %q", out)
	}
}

func TestSetupRejectsOutputWithoutLog(t *testing.T) {
	if err := Setup(false, "infrun", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}
	defer func() {
		infrun, infcall, stepOver = false, false, false
	}()
	if err := Setup(true, "infrun,fncall,displaced", ""); err != nil {
		t.Fatal(err)
	}
	if !Infrun() || !Infcall() || !StepOver() || Threads() {
		t.Fatalf("wrong flags: infrun=%v infcall=%v stepover=%v threads=%v", Infrun(), Infcall(), StepOver(), Threads())
	}
}

func TestSetupServiceComponents(t *testing.T) {
	defer func() {
		dap, debugger, rpc = false, false, false
	}()
	if err := Setup(true, "dap,debugger,rpc", ""); err != nil {
		t.Fatal(err)
	}
	if !DAP() || !Debugger() || !RPC() || Infrun() {
		t.Fatalf("wrong flags: dap=%v debugger=%v rpc=%v infrun=%v", DAP(), Debugger(), RPC(), Infrun())
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw *bufferWriter) Close() error {
	return nil
}
