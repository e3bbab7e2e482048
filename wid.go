package watcher

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const widUUIDLen = 36

// Wid identifies a single execution of a watch. The textual form is
// <watch id>_<uuid>-<RFC3339Nano trigger time>.
type Wid struct {
	watchID string
	value   string
}

// NewWid builds a unique execution id for watchID triggered at t.
func NewWid(watchID string, t time.Time) Wid {
	value := fmt.Sprintf("%s_%s-%s", watchID, uuid.NewString(), t.UTC().Format(time.RFC3339Nano))
	return Wid{watchID: watchID, value: value}
}

// ParseWid recovers a Wid from its textual form.
func ParseWid(value string) (Wid, error) {
	idx := strings.LastIndex(value, "_")
	if idx <= 0 {
		return Wid{}, invalidWid(value, "missing watch id separator")
	}
	rest := value[idx+1:]
	if len(rest) <= widUUIDLen+1 || rest[widUUIDLen] != '-' {
		return Wid{}, invalidWid(value, "malformed execution suffix")
	}
	if _, err := uuid.Parse(rest[:widUUIDLen]); err != nil {
		return Wid{}, invalidWid(value, "malformed uuid")
	}
	if _, err := time.Parse(time.RFC3339Nano, rest[widUUIDLen+1:]); err != nil {
		return Wid{}, invalidWid(value, "malformed timestamp")
	}
	return Wid{watchID: value[:idx], value: value}, nil
}

func invalidWid(value, reason string) error {
	return CloneError(ErrInvalidWid, fmt.Sprintf("invalid watch execution id [%s]: %s", value, reason), nil, map[string]any{
		"wid": value,
	})
}

func (w Wid) WatchID() string { return w.watchID }
func (w Wid) Value() string   { return w.value }
func (w Wid) String() string  { return w.value }
func (w Wid) IsZero() bool    { return w.value == "" }

func (w Wid) MarshalText() ([]byte, error) {
	return []byte(w.value), nil
}

func (w *Wid) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*w = Wid{}
		return nil
	}
	parsed, err := ParseWid(string(data))
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}
