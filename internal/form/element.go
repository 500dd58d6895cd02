package form

import (
	"fmt"
	"slices"

	"formsmith/api/internal/util"
)

// Kind is the closed set of element types a form can hold.
type Kind string

const (
	KindShortText    Kind = "short_text"
	KindLongText     Kind = "long_text"
	KindSingleChoice Kind = "single_choice"
	KindMultiChoice  Kind = "multi_choice"
	KindDropdown     Kind = "dropdown"
	KindDate         Kind = "date"
	KindTime         Kind = "time"
	KindFile         Kind = "file"
	KindRating       Kind = "rating"
)

// MinOptions is the smallest option list a choice element may hold.
const MinOptions = 2

const defaultMaxRating = 5

var kinds = []Kind{
	KindShortText,
	KindLongText,
	KindSingleChoice,
	KindMultiChoice,
	KindDropdown,
	KindDate,
	KindTime,
	KindFile,
	KindRating,
}

// Kinds returns every supported kind in palette order.
func Kinds() []Kind {
	return slices.Clone(kinds)
}

func ParseKind(raw string) (Kind, error) {
	kind := Kind(raw)
	if !slices.Contains(kinds, kind) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
	return kind, nil
}

// IsChoice reports whether elements of this kind carry an option list.
func (k Kind) IsChoice() bool {
	return k == KindSingleChoice || k == KindMultiChoice || k == KindDropdown
}

// Element is one question of a form. ID is assigned at creation and never
// changes; it joins server rows, response answers and comments.
type Element struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`
	MaxRating   *int     `json:"maxRating,omitempty"`
	WordLimit   *int     `json:"wordLimit,omitempty"`
}

// Clone returns a deep copy that shares no slices or pointers with e.
func (e Element) Clone() Element {
	out := e
	out.Options = slices.Clone(e.Options)
	if e.MaxRating != nil {
		v := *e.MaxRating
		out.MaxRating = &v
	}
	if e.WordLimit != nil {
		v := *e.WordLimit
		out.WordLimit = &v
	}
	return out
}

// Equal compares every field including the id.
func (e Element) Equal(other Element) bool {
	return e.ID == other.ID && e.sameShape(other)
}

func (e Element) sameShape(other Element) bool {
	return e.Kind == other.Kind &&
		e.Label == other.Label &&
		e.Placeholder == other.Placeholder &&
		e.Required == other.Required &&
		slices.Equal(e.Options, other.Options) &&
		intPtrEqual(e.MaxRating, other.MaxRating) &&
		intPtrEqual(e.WordLimit, other.WordLimit)
}

// DefaultElement builds the canonical element for a kind with a fresh id.
func DefaultElement(kind Kind) (Element, error) {
	el := Element{
		ID:          util.NewID("el"),
		Kind:        kind,
		Placeholder: "Your answer",
	}
	switch kind {
	case KindShortText:
		el.Label = "Short answer question"
	case KindLongText:
		el.Label = "Paragraph question"
	case KindSingleChoice:
		el.Label = "Multiple choice question"
		el.Placeholder = ""
		el.Options = []string{"Option 1", "Option 2"}
	case KindMultiChoice:
		el.Label = "Checkbox question"
		el.Placeholder = ""
		el.Options = []string{"Option 1", "Option 2"}
	case KindDropdown:
		el.Label = "Dropdown question"
		el.Placeholder = "Choose"
		el.Options = []string{"Option 1", "Option 2"}
	case KindDate:
		el.Label = "Date"
		el.Placeholder = ""
	case KindTime:
		el.Label = "Time"
		el.Placeholder = ""
	case KindFile:
		el.Label = "File upload"
		el.Placeholder = ""
	case KindRating:
		el.Label = "Rating"
		el.Placeholder = ""
		maxRating := defaultMaxRating
		el.MaxRating = &maxRating
	default:
		return Element{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	return el, nil
}

// ValidateOptionCount checks the option-list invariant for choice kinds.
func ValidateOptionCount(el Element) error {
	if !el.Kind.IsChoice() {
		return nil
	}
	if len(el.Options) < MinOptions {
		return fmt.Errorf("%w: element %s needs at least %d options, has %d", ErrInvalidOperation, el.ID, MinOptions, len(el.Options))
	}
	return nil
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
