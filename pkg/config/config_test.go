package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadKeepsDefaults(t *testing.T) {
	c, err := Read(strings.NewReader("unwind-on-signal: true\nnon-stop: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !c.UnwindOnSignal || !c.NonStop {
		t.Fatalf("explicit keys not applied: %#v", c)
	}
	if !c.MayCallFunctions || !c.UnwindOnTerminatingException || !c.CoerceFloatToDouble || !c.DisplacedStepping {
		t.Fatalf("defaults lost: %#v", c)
	}
	opts := c.ProcOptions()
	if !opts.UnwindOnSignal || !opts.NonStop || !opts.MayCallFunctions {
		t.Fatalf("options not mapped: %#v", opts)
	}
}

func TestReadBadYAML(t *testing.T) {
	c, err := Read(strings.NewReader("non-stop: [1"))
	if err == nil {
		t.Fatal("expected decode error")
	}
	if !c.MayCallFunctions {
		t.Fatal("expected default configuration on error")
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	c, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !c.UnwindOnTerminatingException || c.UnwindOnSignal {
		t.Fatalf("unexpected configuration %#v", c)
	}
	if _, err := os.Stat(filepath.Join(dir, configDir, configFile)); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}

	c.StepStopIfNoDebug = true
	if err := SaveConfig(c); err != nil {
		t.Fatal(err)
	}
	c2, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if !c2.StepStopIfNoDebug {
		t.Fatal("saved value not reloaded")
	}
}
