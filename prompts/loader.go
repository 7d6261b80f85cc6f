package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed defaults
var defaults embed.FS

// Loader reads templates and config texts from the config directory and
// falls back to the built-in copies.
type Loader struct {
	dir string
}

// NewLoader creates a loader rooted at dir. An empty dir uses built-ins only.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

// Template returns prompts/<name>.md.
func (l *Loader) Template(name string) (string, error) {
	return l.read(filepath.Join("prompts", name+".md"))
}

// ConfigText returns a file such as persona.yaml.
func (l *Loader) ConfigText(name string) (string, error) {
	return l.read(name)
}

func (l *Loader) read(rel string) (string, error) {
	if l.dir != "" {
		data, err := os.ReadFile(filepath.Join(l.dir, rel))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	data, err := defaults.ReadFile("defaults/" + filepath.ToSlash(rel))
	if err != nil {
		return "", fmt.Errorf("prompt file %s not found", rel)
	}
	return string(data), nil
}

// Check loads every template and config text the builders use, so a broken
// config directory fails at startup instead of inside a job.
func (l *Loader) Check() error {
	for _, name := range templateNames {
		if _, err := l.Template(name); err != nil {
			return err
		}
	}
	for _, name := range configTexts {
		if _, err := l.ConfigText(name); err != nil {
			return err
		}
	}
	return nil
}
