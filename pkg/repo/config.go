package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// RemoteConfig is one [remote "<name>"] section.
type RemoteConfig struct {
	URL   string
	Fetch string
}

// BranchConfig is one [branch "<name>"] section.
type BranchConfig struct {
	Remote string
	Merge  string
}

// Config is the subset of .git/config this client reads and writes.
type Config struct {
	Remotes  map[string]RemoteConfig
	Branches map[string]BranchConfig
}

// Loose makes a missing config file load as empty. Quotes, escapes and
// inline comments are left in place for gitValue to interpret.
var iniLoadOptions = ini.LoadOptions{
	Loose:                   true,
	IgnoreInlineComment:     true,
	PreserveSurroundedQuote: true,
}

func (r *Repo) configPath() string {
	return filepath.Join(r.GitDir, "config")
}

func (r *Repo) loadINI() (*ini.File, error) {
	return ini.LoadSources(iniLoadOptions, r.configPath())
}

// ReadConfig reads .git/config. A missing config returns an empty config.
func (r *Repo) ReadConfig() (*Config, error) {
	f, err := r.loadINI()
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Remotes:  make(map[string]RemoteConfig),
		Branches: make(map[string]BranchConfig),
	}
	for _, sec := range f.Sections() {
		if name, ok := subsectionName(sec.Name(), "remote"); ok {
			cfg.Remotes[name] = RemoteConfig{
				URL:   gitValue(sec.Key("url").String()),
				Fetch: gitValue(sec.Key("fetch").String()),
			}
		} else if name, ok := subsectionName(sec.Name(), "branch"); ok {
			cfg.Branches[name] = BranchConfig{
				Remote: gitValue(sec.Key("remote").String()),
				Merge:  gitValue(sec.Key("merge").String()),
			}
		}
	}
	return cfg, nil
}

// subsectionName extracts origin from `remote "origin"`.
func subsectionName(section, kind string) (string, bool) {
	rest, ok := strings.CutPrefix(section, kind+` "`)
	if !ok {
		return "", false
	}
	return strings.CutSuffix(rest, `"`)
}

// SetRemote stores/updates a named remote URL with git's default fetch
// refspec for it.
func (r *Repo) SetRemote(name, remoteURL string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	remoteURL = strings.TrimSpace(remoteURL)
	if remoteURL == "" {
		return fmt.Errorf("set remote: remote URL is required")
	}

	return r.updateConfig(func(f *ini.File) {
		sec := f.Section(fmt.Sprintf("remote %q", name))
		sec.Key("url").SetValue(quoteGitValue(remoteURL))
		sec.Key("fetch").SetValue(fmt.Sprintf("+refs/heads/*:refs/remotes/%s/*", name))
	})
}

// SetBranchUpstream records that branch tracks the same-named branch on
// remoteName.
func (r *Repo) SetBranchUpstream(branch, remoteName string) error {
	if branch == "" || remoteName == "" {
		return fmt.Errorf("set upstream: branch and remote are required")
	}
	return r.updateConfig(func(f *ini.File) {
		sec := f.Section(fmt.Sprintf("branch %q", branch))
		sec.Key("remote").SetValue(quoteGitValue(remoteName))
		sec.Key("merge").SetValue(quoteGitValue("refs/heads/" + branch))
	})
}

// RemoteURL returns the configured URL for the given remote name.
func (r *Repo) RemoteURL(name string) (string, error) {
	cfg, err := r.ReadConfig()
	if err != nil {
		return "", err
	}
	rc, ok := cfg.Remotes[name]
	if !ok || strings.TrimSpace(rc.URL) == "" {
		return "", fmt.Errorf("remote %q is not configured", name)
	}
	return rc.URL, nil
}

// quoteGitValue double-quotes v when git would otherwise read part of it as
// a comment or an escape.
func quoteGitValue(v string) string {
	if !strings.ContainsAny(v, "#;\"\\") && strings.TrimSpace(v) == v {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(v) + `"`
}

// gitValue interprets a raw config value the way git does: double quotes
// group, backslash escapes, and an unquoted # or ; starts a comment.
func gitValue(raw string) string {
	var b strings.Builder
	quoted := false
	pendingSpace := ""
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case c == '\\' && i+1 < len(raw):
			i++
			b.WriteString(pendingSpace)
			pendingSpace = ""
			switch raw[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(raw[i])
			}
		case c == '"':
			quoted = !quoted
		case !quoted && (c == '#' || c == ';'):
			return b.String()
		case !quoted && (c == ' ' || c == '\t'):
			if b.Len() > 0 {
				pendingSpace += string(c)
			}
		default:
			b.WriteString(pendingSpace)
			pendingSpace = ""
			b.WriteByte(c)
		}
	}
	return b.String()
}

func (r *Repo) writeCoreConfig() error {
	return r.updateConfig(func(f *ini.File) {
		core := f.Section("core")
		core.Key("repositoryformatversion").SetValue("0")
		core.Key("filemode").SetValue("true")
		core.Key("bare").SetValue("false")
	})
}

// updateConfig loads .git/config, applies fn and atomically writes it back.
func (r *Repo) updateConfig(fn func(*ini.File)) error {
	f, err := r.loadINI()
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fn(f)

	tmp, err := os.CreateTemp(r.GitDir, ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := f.WriteTo(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, r.configPath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}
