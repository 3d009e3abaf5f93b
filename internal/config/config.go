// Package config loads the shell's settings: an embedded default, an
// optional procshell.yaml on top of it, then PROCSHELL_* environment
// overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
	"sigs.k8s.io/yaml"
)

//go:embed default/procshell.yaml
var defaultConfigData []byte

const (
	ConfigurationName = "procshell.yaml"
	EnvPrefix         = "PROCSHELL"
)

type Configuration struct {
	Prompt          string `json:"prompt"`
	Reaper          Reaper `json:"reaper"`
	Pager           Pager  `json:"pager"`
	ShutdownSignal  string `json:"shutdown_signal" validate:"required,signal"`
	BackgroundStdin string `json:"background_stdin"`
	ReportTiming    bool   `json:"report_timing"`
	Log             Log    `json:"log"`
}

type Reaper struct {
	Mode         string `json:"mode" validate:"oneof=signal poll"`
	PollInterval string `json:"poll_interval" validate:"required,duration"`
}

type Pager struct {
	Env       string   `json:"env" validate:"required"`
	Fallbacks []string `json:"fallbacks" validate:"dive,required"`
}

type Log struct {
	Level       string `json:"level" validate:"oneof=debug info warn error"`
	Development bool   `json:"development"`
}

// Validate the configuration for basic semantic errors.
func (c *Configuration) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	})
	if err := validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	}); err != nil {
		return err
	}
	if err := validate.RegisterValidation("signal", func(fl validator.FieldLevel) bool {
		return unix.SignalNum(fl.Field().String()) != 0
	}); err != nil {
		return err
	}
	return validate.Struct(c)
}

// PollInterval is the parsed reaper.poll_interval. Call Validate first.
func (c *Configuration) PollInterval() time.Duration {
	d, _ := time.ParseDuration(c.Reaper.PollInterval)
	return d
}

// Signal is the parsed shutdown_signal. Call Validate first.
func (c *Configuration) Signal() syscall.Signal {
	return unix.SignalNum(c.ShutdownSignal)
}

// Default is the embedded configuration.
func Default() *Configuration {
	var out Configuration
	if err := yaml.UnmarshalStrict(defaultConfigData, &out); err != nil {
		panic(err)
	}
	return &out
}

// Load reads ConfigurationName from dir over the defaults. Keys the file
// leaves out keep their default value; unknown keys are an error. A missing
// file, or an empty dir, yields the defaults.
func Load(fsys afero.Fs, dir string) (*Configuration, error) {
	out := Default()
	if dir == "" {
		return out, nil
	}
	// If given the path to a procshell.yaml file, move back up a level.
	if filepath.Base(dir) == ConfigurationName {
		dir = filepath.Dir(dir)
	}

	data, err := afero.ReadFile(fsys, filepath.Join(dir, ConfigurationName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return out, nil
	case err != nil:
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, out); err != nil {
		return nil, fmt.Errorf("%s: %w", ConfigurationName, err)
	}
	return out, nil
}

type envOverrides struct {
	Prompt         string `split_words:"true"`
	ReaperMode     string `split_words:"true"`
	PollInterval   string `split_words:"true"`
	LogLevel       string `split_words:"true"`
	LogDevelopment bool   `split_words:"true"`
}

// ApplyEnv overrides c from PROCSHELL_PROMPT, PROCSHELL_REAPER_MODE,
// PROCSHELL_POLL_INTERVAL, PROCSHELL_LOG_LEVEL and PROCSHELL_LOG_DEVELOPMENT.
// Unset variables leave c untouched.
func (c *Configuration) ApplyEnv() error {
	env := envOverrides{
		Prompt:         c.Prompt,
		ReaperMode:     c.Reaper.Mode,
		PollInterval:   c.Reaper.PollInterval,
		LogLevel:       c.Log.Level,
		LogDevelopment: c.Log.Development,
	}
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	c.Prompt = env.Prompt
	c.Reaper.Mode = env.ReaperMode
	c.Reaper.PollInterval = env.PollInterval
	c.Log.Level = env.LogLevel
	c.Log.Development = env.LogDevelopment
	return nil
}
