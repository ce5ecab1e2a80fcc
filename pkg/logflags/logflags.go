package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

var infrun = false
var infcall = false
var threads = false
var stepOver = false
var dap = false
var debugger = false
var rpc = false

var logOut io.WriteCloser

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	logger.Logger.Level = level
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	return &logrusLogger{logger}
}

func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.ErrorLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// Infrun returns true if the resume/wait loop should log every event it
// handles.
func Infrun() bool {
	return infrun
}

// InfrunLogger returns a logger for the resume/wait loop.
func InfrunLogger() Logger {
	return makeFlaggableLogger(infrun, Fields{"layer": "proc", "kind": "infrun"})
}

// Infcall returns true if the inferior function call protocol should be
// logged.
func Infcall() bool {
	return infcall
}

func InfcallLogger() Logger {
	return makeFlaggableLogger(infcall, Fields{"layer": "proc", "kind": "infcall"})
}

// Threads returns true if thread creation, deletion and state changes
// should be logged.
func Threads() bool {
	return threads
}

// ThreadsLogger returns a logger for the thread registry.
func ThreadsLogger() Logger {
	return makeFlaggableLogger(threads, Fields{"layer": "proc", "kind": "threads"})
}

// StepOver returns true if step-over queue and displaced stepping
// activity should be logged.
func StepOver() bool {
	return stepOver
}

func StepOverLogger() Logger {
	return makeFlaggableLogger(stepOver, Fields{"layer": "proc", "kind": "stepover"})
}

// DAP returns true if the DAP event stream should log every message it
// writes.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP event stream.
func DAPLogger() Logger {
	return makeFlaggableLogger(dap, Fields{"layer": "dap"})
}

// Debugger returns true if the debugger service should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger service.
func DebuggerLogger() Logger {
	return makeFlaggableLogger(debugger, Fields{"layer": "debugger"})
}

// RPC returns true if the JSON-RPC server should log client connections.
func RPC() bool {
	return rpc
}

// RPCLogger returns a logger for the JSON-RPC server.
func RPCLogger() Logger {
	return makeFlaggableLogger(rpc, Fields{"layer": "rpc"})
}

// WriteError writes an error message to the log, if logging is enabled.
func WriteError(msg string) {
	makeLogger(logrus.ErrorLevel, Fields{}).Error(msg)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets execution engine flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "execctl-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "infrun"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "infrun":
			infrun = true
		case "infcall", "fncall":
			infcall = true
		case "threads":
			threads = true
		case "stepover", "displaced":
			stepOver = true
		case "dap":
			dap = true
		case "debugger":
			debugger = true
		case "rpc":
			rpc = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'execctl help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

var textFormatterInstance = &textFormatter{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s ", entry.Time.Format("2006-01-02T15:04:05Z07:00"), strings.ToLower(entry.Level.String()))
	for _, k := range []string{"layer", "kind"} {
		if v, ok := entry.Data[k]; ok {
			fmt.Fprintf(&b, "%s=%v ", k, v)
		}
	}
	for k, v := range entry.Data {
		if k == "layer" || k == "kind" {
			continue
		}
		fmt.Fprintf(&b, "%s=%v ", k, v)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
