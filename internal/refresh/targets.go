package refresh

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
)

// DateToday in a target file resolves to the run's UTC date.
const DateToday = "today"

type targetFile struct {
	Targets []model.Input `yaml:"targets"`
}

func LoadTargets(path string, now time.Time) ([]model.Input, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets: %w", err)
	}
	return ParseTargets(b, now)
}

// ParseTargets decodes a targets document and validates every entry.
func ParseTargets(b []byte, now time.Time) ([]model.Input, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	var f targetFile
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse targets: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, errors.New("targets: file lists no targets")
	}

	today := now.UTC().Format(model.DateLayout)
	for i := range f.Targets {
		t := &f.Targets[i]
		if strings.EqualFold(strings.TrimSpace(t.Date), DateToday) {
			t.Date = today
		}
		t.Mode = model.Mode(strings.ToUpper(string(t.Mode)))
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("target %d: %w", i+1, err)
		}
	}
	return f.Targets, nil
}
