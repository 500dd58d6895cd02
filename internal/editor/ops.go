package editor

import (
	"fmt"

	"formsmith/api/internal/form"
	"formsmith/api/internal/listops"
	"formsmith/api/internal/util"
)

type OpType string

const (
	OpAddElement       OpType = "add_element"
	OpMoveElement      OpType = "move_element"
	OpRemoveElement    OpType = "remove_element"
	OpDuplicateElement OpType = "duplicate_element"
	OpUpdateElement    OpType = "update_element"
	OpAddOption        OpType = "add_option"
	OpUpdateOption     OpType = "update_option"
	OpRemoveOption     OpType = "remove_option"
	OpMoveOption       OpType = "move_option"
	OpUpdateMetadata   OpType = "update_metadata"
)

// Op is one editing operation. Only the fields relevant to Type are read.
type Op struct {
	Type      OpType         `json:"type" validate:"required"`
	Kind      form.Kind      `json:"kind,omitempty"`
	ElementID string         `json:"elementId,omitempty"`
	Index     *int           `json:"index,omitempty"`
	From      int            `json:"from"`
	To        int            `json:"to"`
	Label     *string        `json:"label,omitempty"`
	Element   *ElementPatch  `json:"element,omitempty"`
	Metadata  *MetadataPatch `json:"metadata,omitempty"`
}

// ElementPatch carries the editable properties of an element. Nil fields
// are left unchanged.
type ElementPatch struct {
	Label       *string `json:"label,omitempty"`
	Placeholder *string `json:"placeholder,omitempty"`
	Required    *bool   `json:"required,omitempty"`
	MaxRating   *int    `json:"maxRating,omitempty" validate:"omitempty,min=1,max=10"`
	WordLimit   *int    `json:"wordLimit,omitempty" validate:"omitempty,min=1"`
}

type MetadataPatch struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	ThemeColor  *string        `json:"themeColor,omitempty"`
	LogoURL     *string        `json:"logoUrl,omitempty"`
	Settings    *form.Settings `json:"settings,omitempty"`
}

// apply runs op against d in place. The caller works on a copy, so a failed
// op leaves no partial state behind.
func apply(d *form.Document, op Op) (any, error) {
	switch op.Type {
	case OpAddElement:
		index := len(d.Elements)
		if op.Index != nil {
			index = *op.Index
		}
		return addElement(d, op.Kind, index)
	case OpMoveElement:
		d.Elements = listops.MoveTo(d.Elements, op.From, op.To)
		return nil, nil
	case OpRemoveElement:
		return nil, removeElement(d, op.ElementID)
	case OpDuplicateElement:
		return duplicateElement(d, op.ElementID)
	case OpUpdateElement:
		if op.Element == nil {
			return nil, fmt.Errorf("%w: update_element needs an element patch", form.ErrInvalidOperation)
		}
		return nil, updateElement(d, op.ElementID, *op.Element)
	case OpAddOption:
		return nil, addOption(d, op.ElementID, op.Index, op.Label)
	case OpUpdateOption:
		if op.Index == nil || op.Label == nil {
			return nil, fmt.Errorf("%w: update_option needs index and label", form.ErrInvalidOperation)
		}
		return nil, updateOption(d, op.ElementID, *op.Index, *op.Label)
	case OpRemoveOption:
		if op.Index == nil {
			return nil, fmt.Errorf("%w: remove_option needs an index", form.ErrInvalidOperation)
		}
		return nil, removeOption(d, op.ElementID, *op.Index)
	case OpMoveOption:
		return nil, moveOption(d, op.ElementID, op.From, op.To)
	case OpUpdateMetadata:
		if op.Metadata == nil {
			return nil, fmt.Errorf("%w: update_metadata needs a metadata patch", form.ErrInvalidOperation)
		}
		updateMetadata(d, *op.Metadata)
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown op %q", form.ErrInvalidOperation, op.Type)
	}
}

func elementID(el form.Element) string { return el.ID }

func addElement(d *form.Document, kind form.Kind, index int) (form.Element, error) {
	el, err := form.DefaultElement(kind)
	if err != nil {
		return form.Element{}, err
	}
	d.Elements = listops.InsertAt(d.Elements, index, el)
	return el, nil
}

func removeElement(d *form.Document, id string) error {
	next, err := listops.RemoveByID(d.Elements, id, elementID)
	if err != nil {
		return fmt.Errorf("remove element: %w", err)
	}
	d.Elements = next
	return nil
}

func duplicateElement(d *form.Document, id string) (form.Element, error) {
	next, copied, err := listops.Duplicate(d.Elements, id, elementID, func(el form.Element) form.Element {
		out := el.Clone()
		out.ID = util.NewID("el")
		return out
	})
	if err != nil {
		return form.Element{}, fmt.Errorf("duplicate element: %w", err)
	}
	d.Elements = next
	return copied, nil
}

func updateElement(d *form.Document, id string, patch ElementPatch) error {
	return withElement(d, id, func(el *form.Element) error {
		if patch.Label != nil {
			el.Label = *patch.Label
		}
		if patch.Placeholder != nil {
			el.Placeholder = *patch.Placeholder
		}
		if patch.Required != nil {
			el.Required = *patch.Required
		}
		if patch.MaxRating != nil {
			if el.Kind != form.KindRating {
				return fmt.Errorf("%w: maxRating only applies to rating elements", form.ErrInvalidOperation)
			}
			v := *patch.MaxRating
			el.MaxRating = &v
		}
		if patch.WordLimit != nil {
			if el.Kind != form.KindShortText && el.Kind != form.KindLongText {
				return fmt.Errorf("%w: wordLimit only applies to text elements", form.ErrInvalidOperation)
			}
			v := *patch.WordLimit
			el.WordLimit = &v
		}
		return nil
	})
}

func addOption(d *form.Document, id string, index *int, label *string) error {
	return withChoice(d, id, func(el *form.Element) error {
		text := fmt.Sprintf("Option %d", len(el.Options)+1)
		if label != nil {
			text = *label
		}
		at := len(el.Options)
		if index != nil {
			at = *index
		}
		el.Options = listops.InsertAt(el.Options, at, text)
		return nil
	})
}

func updateOption(d *form.Document, id string, index int, label string) error {
	return withChoice(d, id, func(el *form.Element) error {
		if index < 0 || index >= len(el.Options) {
			return fmt.Errorf("%w: option index %d out of range", form.ErrInvalidOperation, index)
		}
		el.Options[index] = label
		return nil
	})
}

func removeOption(d *form.Document, id string, index int) error {
	return withChoice(d, id, func(el *form.Element) error {
		if len(el.Options) <= form.MinOptions {
			return fmt.Errorf("%w: a choice element keeps at least %d options", form.ErrInvalidOperation, form.MinOptions)
		}
		next, err := listops.RemoveAt(el.Options, index)
		if err != nil {
			return fmt.Errorf("remove option: %w", err)
		}
		el.Options = next
		return nil
	})
}

func moveOption(d *form.Document, id string, from, to int) error {
	return withChoice(d, id, func(el *form.Element) error {
		el.Options = listops.MoveTo(el.Options, from, to)
		return nil
	})
}

func updateMetadata(d *form.Document, patch MetadataPatch) {
	if patch.Title != nil {
		d.Title = *patch.Title
	}
	if patch.Description != nil {
		d.Description = *patch.Description
	}
	if patch.ThemeColor != nil {
		d.ThemeColor = *patch.ThemeColor
	}
	if patch.LogoURL != nil {
		d.LogoURL = *patch.LogoURL
	}
	if patch.Settings != nil {
		d.Settings = *patch.Settings
	}
}

func withElement(d *form.Document, id string, fn func(el *form.Element) error) error {
	i := d.ElementIndex(id)
	if i < 0 {
		return fmt.Errorf("%w: element %q not found", form.ErrInvalidOperation, id)
	}
	return fn(&d.Elements[i])
}

func withChoice(d *form.Document, id string, fn func(el *form.Element) error) error {
	return withElement(d, id, func(el *form.Element) error {
		if !el.Kind.IsChoice() {
			return fmt.Errorf("%w: element %q has no options", form.ErrInvalidOperation, id)
		}
		if err := fn(el); err != nil {
			return err
		}
		return form.ValidateOptionCount(*el)
	})
}
