package listops

import (
	"errors"
	"math/rand"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	ID    string
	Label string
}

func idOf(i item) string { return i.ID }

func items(ids ...string) []item {
	out := make([]item, len(ids))
	for i, id := range ids {
		out[i] = item{ID: id, Label: "label " + id}
	}
	return out
}

func ids(list []item) []string {
	out := make([]string, len(list))
	for i, it := range list {
		out[i] = it.ID
	}
	return out
}

func TestInsertAtClamps(t *testing.T) {
	cases := []struct {
		name  string
		index int
		want  []string
	}{
		{name: "front", index: 0, want: []string{"x", "a", "b"}},
		{name: "middle", index: 1, want: []string{"a", "x", "b"}},
		{name: "end", index: 2, want: []string{"a", "b", "x"}},
		{name: "negative", index: -4, want: []string{"x", "a", "b"}},
		{name: "past end", index: 99, want: []string{"a", "b", "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := items("a", "b")
			out := InsertAt(in, tc.index, item{ID: "x"})
			assert.Equal(t, tc.want, ids(out))
			assert.Equal(t, []string{"a", "b"}, ids(in))
		})
	}
}

func TestRemove(t *testing.T) {
	in := items("a", "b", "c")

	out, err := RemoveAt(in, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids(out))
	assert.Equal(t, []string{"a", "b", "c"}, ids(in))

	_, err = RemoveAt(in, 3)
	assert.True(t, errors.Is(err, ErrInvalidOperation))
	_, err = RemoveAt(in, -1)
	assert.True(t, errors.Is(err, ErrInvalidOperation))

	out, err = RemoveByID(in, "c", idOf)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(out))

	_, err = RemoveByID(in, "zz", idOf)
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

func TestMoveTo(t *testing.T) {
	cases := []struct {
		name     string
		from, to int
		want     []string
	}{
		{name: "last to first", from: 2, to: 0, want: []string{"c", "a", "b"}},
		{name: "first to last", from: 0, to: 2, want: []string{"b", "c", "a"}},
		{name: "adjacent down", from: 0, to: 1, want: []string{"b", "a", "c"}},
		{name: "adjacent up", from: 2, to: 1, want: []string{"a", "c", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := items("a", "b", "c")
			out := MoveTo(in, tc.from, tc.to)
			assert.Equal(t, tc.want, ids(out))
			assert.Equal(t, []string{"a", "b", "c"}, ids(in))
		})
	}
}

func TestMoveToNoOpReturnsInput(t *testing.T) {
	in := items("a", "b", "c")
	for _, move := range [][2]int{{1, 1}, {-1, 0}, {0, 3}, {5, 1}} {
		out := MoveTo(in, move[0], move[1])
		require.Len(t, out, len(in))
		assert.Same(t, &in[0], &out[0], "move %v should return the input slice", move)
	}
}

func TestDuplicateInsertsAfterOriginal(t *testing.T) {
	in := items("a", "b", "c")
	out, copied, err := Duplicate(in, "b", idOf, func(i item) item {
		i.ID = i.ID + "-copy"
		return i
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b-copy", "c"}, ids(out))
	assert.Equal(t, "label b", copied.Label)
	assert.Len(t, in, 3)

	_, _, err = Duplicate(in, "nope", idOf, func(i item) item { return i })
	assert.True(t, errors.Is(err, ErrInvalidOperation))
}

// Random sequences of insert/remove/move are checked against a naive model.
func TestRandomSequencesPreserveIDs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 200; run++ {
		list := items("0")
		model := []string{"0"}
		next := 1
		for step := 0; step < 30; step++ {
			switch rng.Intn(3) {
			case 0:
				id := strconv.Itoa(next)
				next++
				idx := rng.Intn(len(model)+3) - 1
				list = InsertAt(list, idx, item{ID: id})
				clamped := max(0, min(idx, len(model)))
				model = slices.Insert(model, clamped, id)
			case 1:
				if len(model) == 0 {
					continue
				}
				idx := rng.Intn(len(model))
				var err error
				list, err = RemoveAt(list, idx)
				require.NoError(t, err)
				model = slices.Delete(model, idx, idx+1)
			case 2:
				if len(model) == 0 {
					continue
				}
				from, to := rng.Intn(len(model)), rng.Intn(len(model))
				list = MoveTo(list, from, to)
				if from != to {
					id := model[from]
					model = slices.Delete(model, from, from+1)
					model = slices.Insert(model, to, id)
				}
			}
			require.Equal(t, model, ids(list))
		}
		seen := map[string]bool{}
		for _, id := range ids(list) {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
}
