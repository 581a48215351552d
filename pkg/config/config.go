// Package config loads user settings from a TOML file, GRIT_* environment
// variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Setting keys.
const (
	KeyUserName       = "user.name"
	KeyUserEmail      = "user.email"
	KeyHTTPTimeout    = "http.timeout"
	KeyHTTPAttempts   = "http.max_attempts"
	KeyHTTPUserAgent  = "http.user_agent"
	KeyCloneRemote    = "clone.remote_name"
	KeyCloneAllRefs   = "clone.all_refs"
	envPrefix         = "GRIT"
	defaultUserAgent  = "grit/0.1"
	defaultRemoteName = "origin"
)

// Settings is the resolved configuration.
type Settings struct {
	User  UserSettings
	HTTP  HTTPSettings
	Clone CloneSettings

	// File is the config file that was read, empty when none was found.
	File string
}

type UserSettings struct {
	Name  string
	Email string
}

type HTTPSettings struct {
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
}

type CloneSettings struct {
	RemoteName string
	AllRefs    bool
}

// Loader layers defaults, the config file, the environment and bound flags.
type Loader struct {
	v *viper.Viper
}

// NewLoader returns a Loader with defaults and GRIT_* environment lookup
// (GRIT_HTTP_TIMEOUT for http.timeout) configured.
func NewLoader() *Loader {
	v := viper.New()
	v.SetDefault(KeyUserName, "")
	v.SetDefault(KeyUserEmail, "")
	v.SetDefault(KeyHTTPTimeout, "0s")
	v.SetDefault(KeyHTTPAttempts, 1)
	v.SetDefault(KeyHTTPUserAgent, defaultUserAgent)
	v.SetDefault(KeyCloneRemote, defaultRemoteName)
	v.SetDefault(KeyCloneAllRefs, false)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlag makes flag override key when the user sets it.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("bind %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// DefaultPath returns $XDG_CONFIG_HOME/grit/config.toml, falling back to the
// user config directory.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "grit", "config.toml"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "grit", "config.toml"), nil
}

// Load reads path (or DefaultPath when empty) and resolves Settings. A
// missing default file is not an error; a missing explicit file is.
func (l *Loader) Load(path string) (*Settings, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	var used string
	if path != "" {
		var raw map[string]any
		_, err := toml.DecodeFile(path, &raw)
		switch {
		case err == nil:
			if err := l.v.MergeConfigMap(raw); err != nil {
				return nil, fmt.Errorf("config %s: %w", path, err)
			}
			used = path
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}

	s, err := l.settings()
	if err != nil {
		return nil, err
	}
	s.File = used
	return s, nil
}

func (l *Loader) settings() (*Settings, error) {
	timeout, err := parseDuration(l.v.GetString(KeyHTTPTimeout))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyHTTPTimeout, err)
	}
	attempts := l.v.GetInt(KeyHTTPAttempts)
	if attempts < 1 {
		return nil, fmt.Errorf("%s must be at least 1, got %d", KeyHTTPAttempts, attempts)
	}
	s := &Settings{
		User: UserSettings{
			Name:  l.v.GetString(KeyUserName),
			Email: l.v.GetString(KeyUserEmail),
		},
		HTTP: HTTPSettings{
			Timeout:     timeout,
			MaxAttempts: attempts,
			UserAgent:   l.v.GetString(KeyHTTPUserAgent),
		},
		Clone: CloneSettings{
			RemoteName: l.v.GetString(KeyCloneRemote),
			AllRefs:    l.v.GetBool(KeyCloneAllRefs),
		},
	}
	if strings.TrimSpace(s.Clone.RemoteName) == "" {
		s.Clone.RemoteName = defaultRemoteName
	}
	return s, nil
}

// parseDuration accepts Go durations ("30s") and bare seconds ("30").
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d, nil
	}
	var secs int
	if _, err := fmt.Sscanf(raw, "%d", &secs); err != nil || fmt.Sprint(secs) != raw {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return time.Duration(secs) * time.Second, nil
}
