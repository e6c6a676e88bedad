package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncforge/core/internal/logging"
)

type fakeOp struct {
	name      string
	dependsOn []string
	optional  bool
	run       func(sc *Context) error
}

func (f *fakeOp) Name() string         { return f.name }
func (f *fakeOp) DependsOn() []string  { return f.dependsOn }
func (f *fakeOp) Optional() bool       { return f.optional }
func (f *fakeOp) Run(ctx context.Context, sc *Context) error {
	if f.run == nil {
		return nil
	}
	return f.run(sc)
}

func newTestExecutor() *Executor {
	return New(logging.New("search-test", "error", "text"), nil)
}

func TestExecuteRunsInDependencyOrder(t *testing.T) {
	var order []string
	plan := []Operation{
		&fakeOp{name: "b", dependsOn: []string{"a"}, run: func(sc *Context) error { order = append(order, "b"); return nil }},
		&fakeOp{name: "a", run: func(sc *Context) error { order = append(order, "a"); return nil }},
		&fakeOp{name: "c", dependsOn: []string{"b"}, run: func(sc *Context) error { order = append(order, "c"); return nil }},
	}

	sc := NewContext("q", 10, 0, nil)
	err := newTestExecutor().Execute(context.Background(), plan, sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestExecuteTreatsMissingDependencyAsSatisfied(t *testing.T) {
	ran := false
	plan := []Operation{
		&fakeOp{name: "solo", dependsOn: []string{"never_declared"}, run: func(sc *Context) error { ran = true; return nil }},
	}

	err := newTestExecutor().Execute(context.Background(), plan, NewContext("q", 10, 0, nil))
	require.NoError(t, err)
	assert.True(t, ran, "an operation depending on a name absent from the plan must still run")
}

func TestExecuteStopsOnRequiredOperationFailure(t *testing.T) {
	boom := errors.New("boom")
	laterRan := false
	plan := []Operation{
		&fakeOp{name: "required", run: func(sc *Context) error { return boom }},
		&fakeOp{name: "later", dependsOn: []string{"required"}, run: func(sc *Context) error { laterRan = true; return nil }},
	}

	err := newTestExecutor().Execute(context.Background(), plan, NewContext("q", 10, 0, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, laterRan, "an operation depending on a failed required stage must not run")
}

func TestExecuteContinuesPastOptionalFailure(t *testing.T) {
	boom := errors.New("boom")
	laterRan := false
	plan := []Operation{
		&fakeOp{name: "optional", optional: true, run: func(sc *Context) error { return boom }},
		&fakeOp{name: "later", dependsOn: []string{"optional"}, run: func(sc *Context) error { laterRan = true; return nil }},
	}

	sc := NewContext("q", 10, 0, nil)
	err := newTestExecutor().Execute(context.Background(), plan, sc)
	require.NoError(t, err)
	assert.True(t, laterRan, "a dependent of a failed optional stage must still run, since optional stages are marked executed regardless of outcome")
	require.Len(t, sc.Errors, 1)
	assert.Equal(t, "optional", sc.Errors[0].Operation)
}

func TestExecuteBreaksOnUnsatisfiableCycle(t *testing.T) {
	plan := []Operation{
		&fakeOp{name: "x", dependsOn: []string{"y"}},
		&fakeOp{name: "y", dependsOn: []string{"x"}},
	}

	sc := NewContext("q", 10, 0, nil)
	err := newTestExecutor().Execute(context.Background(), plan, sc)
	require.NoError(t, err, "a deadlocked plan must not execute further but also must not be treated as a hard error")
}
