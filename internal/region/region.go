package region

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidInput = errors.New("region: invalid input")
	ErrNotFound     = errors.New("region: not found")
	ErrHasChildren  = errors.New("region: has children")
)

// Level identifies a tier in the four-level administrative hierarchy.
type Level string

const (
	LevelState    Level = "state"
	LevelDistrict Level = "district"
	LevelArea     Level = "area"
	LevelUnit     Level = "unit"
)

var levelDepth = map[Level]int{
	LevelState:    0,
	LevelDistrict: 1,
	LevelArea:     2,
	LevelUnit:     3,
}

// ParseLevel converts a stored string into a Level.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.TrimSpace(strings.ToLower(s)))
	if _, ok := levelDepth[l]; !ok {
		return "", fmt.Errorf("%w: unknown level %q", ErrInvalidInput, s)
	}
	return l, nil
}

// Depth returns the zero-based tier of the level, state being 0.
func (l Level) Depth() int { return levelDepth[l] }

// Valid reports whether the level is one of the four known tiers.
func (l Level) Valid() bool {
	_, ok := levelDepth[l]
	return ok
}

// Child returns the level one tier below, if any.
func (l Level) Child() (Level, bool) {
	switch l {
	case LevelState:
		return LevelDistrict, true
	case LevelDistrict:
		return LevelArea, true
	case LevelArea:
		return LevelUnit, true
	default:
		return "", false
	}
}

// Region is a node in the administrative tree. Edges point strictly at the
// parent; descendant sets are derived, never stored.
type Region struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
	ParentID  string    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Path is the classification of a resource across all four tiers, copied at
// creation time. Lower tiers may be empty when the resource sits higher up.
type Path struct {
	State    string `json:"state"`
	District string `json:"district,omitempty"`
	Area     string `json:"area,omitempty"`
	Unit     string `json:"unit,omitempty"`
}

// MostSpecific returns the deepest non-empty component of the path.
func (p Path) MostSpecific() string {
	switch {
	case p.Unit != "":
		return p.Unit
	case p.Area != "":
		return p.Area
	case p.District != "":
		return p.District
	default:
		return p.State
	}
}

// Validate checks structural invariants of a single region record.
// Parent/level agreement is checked by the Index, which can see the parent.
func (r Region) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: region id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Code) == "" {
		return fmt.Errorf("%w: region code is required", ErrInvalidInput)
	}
	if !r.Level.Valid() {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidInput, r.Level)
	}
	if r.Level == LevelState && r.ParentID != "" {
		return fmt.Errorf("%w: state region %s must not have a parent", ErrInvalidInput, r.ID)
	}
	if r.Level != LevelState && r.ParentID == "" {
		return fmt.Errorf("%w: region %s at level %s requires a parent", ErrInvalidInput, r.ID, r.Level)
	}
	return nil
}
