package debugger

import (
	"fmt"
	"strconv"
	"strings"
)

// FindLocation returns the address of the location described by locStr.
func (d *Debugger) FindLocation(locStr string) (uint64, error) {
	d.targetMutex.Lock()
	defer d.targetMutex.Unlock()
	return d.findLocation(locStr)
}

// findLocation parses a location specification:
//
//	*<address>	an address
//	<function>:<line>	a line of a function
//	<line>	a line of the function of the selected frame
//	+<offset> or -<offset>	a line relative to the line of the selected frame
//	<function>	the entry point of a function
//	<label>	any other symbol of the program
func (d *Debugger) findLocation(locStr string) (uint64, error) {
	locStr = strings.TrimSpace(locStr)
	if locStr == "" {
		return 0, fmt.Errorf("empty location")
	}

	if strings.HasPrefix(locStr, "*") {
		addr, err := strconv.ParseUint(locStr[1:], 0, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed address %q: %v", locStr[1:], err)
		}
		return addr, nil
	}

	if i := strings.LastIndex(locStr, ":"); i >= 0 {
		fname := locStr[:i]
		line, err := strconv.Atoi(locStr[i+1:])
		if err != nil {
			return 0, fmt.Errorf("malformed line number %q", locStr[i+1:])
		}
		if d.prog.LookupFunc(fname) == nil {
			return 0, fmt.Errorf("location %q not found: no function %s", locStr, fname)
		}
		return d.lineAddr(fname, line)
	}

	if locStr[0] == '+' || locStr[0] == '-' || (locStr[0] >= '0' && locStr[0] <= '9') {
		n, err := strconv.Atoi(locStr)
		if err != nil {
			return 0, fmt.Errorf("malformed location %q", locStr)
		}
		fr, err := d.session.SelectedFrame()
		if err != nil {
			return 0, err
		}
		if fr.Fn == nil || !fr.HasLine {
			return 0, fmt.Errorf("no line information for the selected frame")
		}
		line := n
		if locStr[0] == '+' || locStr[0] == '-' {
			line = fr.Line.Line + n
		}
		return d.lineAddr(fr.Fn.Name, line)
	}

	if fn := d.prog.LookupFunc(locStr); fn != nil {
		return fn.Entry, nil
	}
	if addr, ok := d.prog.Symbol(locStr); ok {
		return addr, nil
	}
	return 0, fmt.Errorf("location %q not found", locStr)
}

func (d *Debugger) lineAddr(fname string, line int) (uint64, error) {
	addr, ok := d.prog.LineToPC(fname, line)
	if !ok {
		return 0, fmt.Errorf("could not find %s:%d", fname, line)
	}
	return addr, nil
}
