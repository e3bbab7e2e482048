package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"gopkg.in/yaml.v3"

	watcher "github.com/goliatone/go-watcher"
)

// WatchFile is the YAML document listing watch definitions.
type WatchFile struct {
	Watches []WatchDefinition `yaml:"watches"`
}

type WatchDefinition struct {
	ID             string             `yaml:"id"`
	Schedule       string             `yaml:"schedule"`
	ThrottlePeriod string             `yaml:"throttle_period,omitempty"`
	Active         *bool              `yaml:"active,omitempty"`
	Metadata       map[string]any     `yaml:"metadata,omitempty"`
	Input          *PhaseDefinition   `yaml:"input,omitempty"`
	Condition      *PhaseDefinition   `yaml:"condition,omitempty"`
	Transform      *PhaseDefinition   `yaml:"transform,omitempty"`
	Actions        []ActionDefinition `yaml:"actions,omitempty"`
}

// PhaseDefinition names a builtin phase type. Remaining keys are passed to
// the phase factory.
type PhaseDefinition struct {
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:",inline"`
}

type ActionDefinition struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Options map[string]any `yaml:",inline"`
}

// Phase returns the action as a phase definition for factory lookup.
func (a ActionDefinition) Phase() PhaseDefinition {
	return PhaseDefinition{Type: a.Type, Options: a.Options}
}

// IsActive defaults to true when the field is omitted.
func (d WatchDefinition) IsActive() bool {
	return d.Active == nil || *d.Active
}

// Throttle parses the throttle period. set is false when the field is empty,
// meaning the engine default applies.
func (d WatchDefinition) Throttle() (period time.Duration, set bool, err error) {
	if strings.TrimSpace(d.ThrottlePeriod) == "" {
		return 0, false, nil
	}
	period, err = time.ParseDuration(strings.TrimSpace(d.ThrottlePeriod))
	if err != nil {
		return 0, false, errors.Wrap(err, errors.CategoryValidation, fmt.Sprintf("watch [%s] has invalid throttle_period %q", d.ID, d.ThrottlePeriod)).
			WithTextCode(watcher.ErrCodeInvalidConfig)
	}
	if period < 0 {
		return 0, false, watcher.CloneError(watcher.ErrInvalidConfig, fmt.Sprintf("watch [%s] throttle_period must be >= 0", d.ID), nil, nil)
	}
	return period, true, nil
}

// LoadWatchFile reads and validates a watch definitions file.
func LoadWatchFile(path string) (*WatchFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryBadInput, fmt.Sprintf("reading watch file %q", path))
	}
	return ParseWatchFile(raw)
}

func ParseWatchFile(raw []byte) (*WatchFile, error) {
	var file WatchFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&file); err != nil {
		if stderrors.Is(err, io.EOF) {
			return &file, nil
		}
		return nil, errors.Wrap(err, errors.CategoryBadInput, "decoding watch file").
			WithTextCode(watcher.ErrCodeInvalidConfig)
	}
	if err := file.Validate(); err != nil {
		return nil, err
	}
	return &file, nil
}

func (f *WatchFile) Validate() error {
	seen := map[string]bool{}
	var problems []string
	for i, def := range f.Watches {
		id := strings.TrimSpace(def.ID)
		if id == "" {
			problems = append(problems, fmt.Sprintf("watches[%d]: id is required", i))
			continue
		}
		if seen[id] {
			problems = append(problems, fmt.Sprintf("watch [%s] is defined more than once", id))
		}
		seen[id] = true
		if _, _, err := def.Throttle(); err != nil {
			problems = append(problems, err.Error())
		}
		actionIDs := map[string]bool{}
		for j, action := range def.Actions {
			if action.ID == "" {
				problems = append(problems, fmt.Sprintf("watch [%s] actions[%d]: id is required", id, j))
				continue
			}
			if actionIDs[action.ID] {
				problems = append(problems, fmt.Sprintf("watch [%s] action [%s] is defined more than once", id, action.ID))
			}
			actionIDs[action.ID] = true
			if action.Type == "" {
				problems = append(problems, fmt.Sprintf("watch [%s] action [%s]: type is required", id, action.ID))
			}
		}
	}
	if len(problems) == 0 {
		return nil
	}
	return watcher.CloneError(watcher.ErrInvalidConfig, strings.Join(problems, "; "), nil, map[string]any{
		"problems": problems,
	})
}
