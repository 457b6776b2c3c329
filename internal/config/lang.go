package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Lang is a loaded lang/<name>.yml message file.
type Lang struct {
	Name     string            `yaml:"-"`
	Prefix   string            `yaml:"prefix"`
	Messages map[string]string `yaml:"messages"`
}

func LangPath(dataDir, name string) string {
	return filepath.Join(dataDir, "lang", name+".yml")
}

func LoadLang(dataDir, name string) (Lang, error) {
	path := LangPath(dataDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return Lang{}, &Error{Path: path, Err: err}
	}
	var l Lang
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return Lang{}, &Error{Path: path, Err: err}
	}
	if strings.TrimSpace(l.Prefix) == "" {
		return Lang{}, &Error{Path: path, Err: fmt.Errorf("prefix must not be empty")}
	}
	if l.Messages == nil {
		l.Messages = map[string]string{}
	}
	l.Name = name
	return l, nil
}

// Message formats a message by key without the prefix. Unknown keys render as
// the key itself so a stale lang file never breaks a caller.
func (l Lang) Message(key string, args ...any) string {
	msg, ok := l.Messages[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// Prefixed is Message with the lang prefix in front.
func (l Lang) Prefixed(key string, args ...any) string {
	return l.Prefix + " " + l.Message(key, args...)
}
