package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/go-delve/execctl/pkg/proc"
)

const (
	configDir  string = "execctl"
	configFile string = "config.yml"
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// MayCallFunctions allows expressions to call functions in the
	// debugged program.
	MayCallFunctions bool `yaml:"may-call-functions"`
	// UnwindOnSignal pops the dummy frame and restores the caller when a
	// signal arrives during a function call, instead of leaving the
	// program stopped inside the called function.
	UnwindOnSignal bool `yaml:"unwind-on-signal"`
	// UnwindOnTerminatingException does the same when the called function
	// throws an exception nothing catches.
	UnwindOnTerminatingException bool `yaml:"unwind-on-terminating-exception"`
	// CoerceFloatToDouble promotes float arguments of unprototyped
	// functions to double.
	CoerceFloatToDouble bool `yaml:"coerce-float-to-double"`
	// StepStopIfNoDebug makes step stop in functions without line
	// information instead of stepping over them.
	StepStopIfNoDebug bool `yaml:"step-stop-if-no-debug"`
	NonStop           bool `yaml:"non-stop"`
	// DisplacedStepping enables out-of-line stepping over breakpoints.
	DisplacedStepping bool `yaml:"displaced-stepping"`
	PrintThreadEvents bool `yaml:"print-thread-events"`

	// SimInstructionBudget bounds how many instructions the simulated
	// backend executes per wait. Zero means the backend default.
	SimInstructionBudget int `yaml:"sim-instruction-budget,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Aliases:                      map[string][]string{},
		MayCallFunctions:             true,
		UnwindOnTerminatingException: true,
		CoerceFloatToDouble:          true,
		DisplacedStepping:            true,
		PrintThreadEvents:            true,
	}
}

// ProcOptions converts the configuration into engine options.
func (c *Config) ProcOptions() proc.Options {
	return proc.Options{
		MayCallFunctions:             c.MayCallFunctions,
		UnwindOnSignal:               c.UnwindOnSignal,
		UnwindOnTerminatingException: c.UnwindOnTerminatingException,
		CoerceFloatToDouble:          c.CoerceFloatToDouble,
		StepStopIfNoDebug:            c.StepStopIfNoDebug,
		NonStop:                      c.NonStop,
		DisplacedStepping:            c.DisplacedStepping,
		PrintThreadEvents:            c.PrintThreadEvents,
	}
}

// LoadConfig attempts to populate a Config object from the config.yml file.
// A missing file is created with the default contents.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return Default(), fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return Default(), fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return Default(), fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()
	return Read(f)
}

// LoadConfigFile reads the configuration from an explicit path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes a configuration, keys not present keep their default
// value.
func Read(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Default(), fmt.Errorf("unable to read config data: %v", err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return Default(), fmt.Errorf("unable to decode config file: %v", err)
	}
	if c.Aliases == nil {
		c.Aliases = map[string][]string{}
	}
	return c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for execctl.

# This is the default configuration file. Available options are provided
# with their default value.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Allow expressions to call functions in the program.
may-call-functions: true

# Pop the call frame when a signal arrives in the middle of a function call.
unwind-on-signal: false

# Pop the call frame when the called function throws an exception that
# nothing catches.
unwind-on-terminating-exception: true

# Promote float arguments of unprototyped functions to double.
coerce-float-to-double: true

# Stop inside functions without line information when stepping.
step-stop-if-no-debug: false

# Only stop the thread that reported an event.
non-stop: false

# Step over breakpoints out of line.
displaced-stepping: true

print-thread-events: true
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, configDir, file), nil
	}
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		userHomeDir = "."
	}
	return filepath.Join(userHomeDir, ".config", configDir, file), nil
}
