// Package config loads whisperkey settings from a YAML file with
// environment overrides and watches the file for edits.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/natefinch/atomic"

	"whisperkey/clipboard"
	"whisperkey/device"
	"whisperkey/transcriber"
)

const fileName = "config.yaml"

type Bindings struct {
	Toggle string `yaml:"toggle"`
	Cancel string `yaml:"cancel"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Backend struct {
	URL           string `yaml:"url"`
	APIKey        string `yaml:"api_key,omitempty"`
	ModelTemplate string `yaml:"model_template,omitempty"`
}

type Settings struct {
	ModelSize        string   `yaml:"model_size"`
	Device           string   `yaml:"device"`
	Language         string   `yaml:"language"`
	Bindings         Bindings `yaml:"bindings"`
	MicIndex         int      `yaml:"mic_index"`
	ClipboardRestore string   `yaml:"clipboard_restore"`
	Server           Server   `yaml:"server"`
	Backend          Backend  `yaml:"backend"`
	GPULibsDir       string   `yaml:"gpu_libs_dir,omitempty"`
	KeepAudioDir     string   `yaml:"keep_audio_dir,omitempty"`
	Beep             bool     `yaml:"beep"`
}

func Defaults() Settings {
	return Settings{
		ModelSize:        transcriber.DefaultModelSize,
		Device:           device.Auto.String(),
		Language:         "en",
		Bindings:         Bindings{Toggle: "F9", Cancel: "Escape"},
		MicIndex:         -1,
		ClipboardRestore: clipboard.LeaveText.String(),
		Server:           Server{Addr: "127.0.0.1:8000"},
		Backend: Backend{
			URL:           "http://127.0.0.1:8080",
			ModelTemplate: transcriber.DefaultModelTemplate,
		},
		Beep: true,
	}
}

// DefaultPath is config.yaml under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return fileName
	}
	return filepath.Join(dir, "whisperkey", fileName)
}

var envOverrides = []struct {
	name string
	set  func(*Settings, string)
}{
	{"WHISPERKEY_MODEL_SIZE", func(s *Settings, v string) { s.ModelSize = v }},
	{"WHISPERKEY_DEVICE", func(s *Settings, v string) { s.Device = v }},
	{"WHISPERKEY_LANGUAGE", func(s *Settings, v string) { s.Language = v }},
	{"WHISPERKEY_BACKEND_URL", func(s *Settings, v string) { s.Backend.URL = v }},
	{"WHISPERKEY_API_KEY", func(s *Settings, v string) { s.Backend.APIKey = v }},
	{"WHISPERKEY_SERVER_ADDR", func(s *Settings, v string) { s.Server.Addr = v }},
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error.
func Load(path string) (Settings, error) {
	s := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return s, err
	default:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	for _, o := range envOverrides {
		if v, ok := os.LookupEnv(o.name); ok && v != "" {
			o.set(&s, v)
		}
	}
	return s, s.Validate()
}

func (s Settings) Validate() error {
	var errs []error
	if _, err := device.ParseIntent(s.Device); err != nil {
		errs = append(errs, err)
	}
	if err := transcriber.ValidateModelSize(s.ModelSize); err != nil {
		errs = append(errs, err)
	}
	if _, err := clipboard.ParsePolicy(s.ClipboardRestore); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(s.Bindings.Toggle) == "" {
		errs = append(errs, errors.New("bindings.toggle is empty"))
	}
	if strings.TrimSpace(s.Bindings.Cancel) == "" {
		errs = append(errs, errors.New("bindings.cancel is empty"))
	}
	if s.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is empty"))
	}
	return errors.Join(errs...)
}

// Intent and Policy are only meaningful on validated settings.
func (s Settings) Intent() device.Intent {
	i, _ := device.ParseIntent(s.Device)
	return i
}

func (s Settings) Policy() clipboard.Policy {
	p, _ := clipboard.ParsePolicy(s.ClipboardRestore)
	return p
}

// Get looks up a dotted yaml key such as "bindings.toggle".
func (s Settings) Get(key string) (string, bool) {
	v := reflect.ValueOf(s)
	for _, part := range strings.Split(key, ".") {
		if v.Kind() != reflect.Struct {
			return "", false
		}
		f, ok := fieldByTag(v, part)
		if !ok {
			return "", false
		}
		v = f
	}
	switch v.Kind() {
	case reflect.String:
		return v.String(), true
	case reflect.Int:
		return strconv.FormatInt(v.Int(), 10), true
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), true
	}
	return "", false
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := range t.NumField() {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Save writes s as YAML. The daemon never calls it; it backs
// "whisperkey config init".
func Save(path string, s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(data))
}
