// Package listops implements the ordered-list operations behind element and
// option editing. Every function returns a new slice and leaves its input
// untouched, except MoveTo which hands back the input when it is a no-op.
package listops

import (
	"errors"
	"fmt"
	"slices"
)

var ErrInvalidOperation = errors.New("invalid list operation")

// InsertAt inserts item at index, clamped to [0, len(list)].
func InsertAt[T any](list []T, index int, item T) []T {
	index = max(0, min(index, len(list)))
	out := make([]T, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, item)
	return append(out, list[index:]...)
}

func RemoveAt[T any](list []T, index int) ([]T, error) {
	if index < 0 || index >= len(list) {
		return nil, fmt.Errorf("%w: remove index %d out of range [0,%d)", ErrInvalidOperation, index, len(list))
	}
	out := make([]T, 0, len(list)-1)
	out = append(out, list[:index]...)
	return append(out, list[index+1:]...), nil
}

// RemoveByID removes the first item whose id matches.
func RemoveByID[T any](list []T, id string, idOf func(T) string) ([]T, error) {
	index := IndexOf(list, id, idOf)
	if index < 0 {
		return nil, fmt.Errorf("%w: id %q not found", ErrInvalidOperation, id)
	}
	return RemoveAt(list, index)
}

// MoveTo splices the item at from out and back in at to. Equal or
// out-of-range indices return list itself.
func MoveTo[T any](list []T, from, to int) []T {
	if from == to || from < 0 || to < 0 || from >= len(list) || to >= len(list) {
		return list
	}
	out := slices.Clone(list)
	item := out[from]
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, item)
}

// Duplicate inserts clone(original) directly after the item with id. clone is
// responsible for assigning the fresh id.
func Duplicate[T any](list []T, id string, idOf func(T) string, clone func(T) T) ([]T, T, error) {
	var zero T
	index := IndexOf(list, id, idOf)
	if index < 0 {
		return nil, zero, fmt.Errorf("%w: id %q not found", ErrInvalidOperation, id)
	}
	copied := clone(list[index])
	return InsertAt(list, index+1, copied), copied, nil
}

func IndexOf[T any](list []T, id string, idOf func(T) string) int {
	return slices.IndexFunc(list, func(item T) bool { return idOf(item) == id })
}
