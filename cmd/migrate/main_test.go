package main

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMigrator struct {
	calls   []string
	steps   int
	forced  int
	failOn  string
	closed  bool
	version uint
}

func (f *fakeMigrator) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failOn == name {
		return errors.New(name + " failed")
	}
	return nil
}

func (f *fakeMigrator) Up() error   { return f.record("up") }
func (f *fakeMigrator) Down() error { return f.record("down") }

func (f *fakeMigrator) Steps(n int) error {
	f.steps = n
	return f.record("steps")
}

func (f *fakeMigrator) Version() (uint, bool, error) {
	return f.version, false, nil
}

func (f *fakeMigrator) Force(v int) error {
	f.forced = v
	return f.record("force")
}

func (f *fakeMigrator) Close() error {
	f.closed = true
	return nil
}

func execute(t *testing.T, m *fakeMigrator, args ...string) (string, error) {
	t.Helper()
	var gotPath string
	open := func(_ context.Context, path string, _ zerolog.Logger) (migrator, func(), error) {
		gotPath = path
		return m, func() {}, nil
	}
	cmd := newRootCmd(open)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return gotPath, err
}

func TestMigrate_Up(t *testing.T) {
	m := &fakeMigrator{}
	path, err := execute(t, m, "up", "--path", "/tmp/migrations")
	require.NoError(t, err)
	assert.Equal(t, []string{"up"}, m.calls)
	assert.Equal(t, "/tmp/migrations", path)
	assert.True(t, m.closed)
}

func TestMigrate_Down(t *testing.T) {
	m := &fakeMigrator{}
	_, err := execute(t, m, "down")
	require.NoError(t, err)
	assert.Equal(t, []string{"down"}, m.calls)
}

func TestMigrate_Steps(t *testing.T) {
	m := &fakeMigrator{}
	_, err := execute(t, m, "steps", "--", "-2")
	require.NoError(t, err)
	assert.Equal(t, -2, m.steps)

	_, err = execute(t, &fakeMigrator{}, "steps", "0")
	require.Error(t, err)

	_, err = execute(t, &fakeMigrator{}, "steps", "many")
	require.Error(t, err)
}

func TestMigrate_Force(t *testing.T) {
	m := &fakeMigrator{}
	_, err := execute(t, m, "force", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, m.forced)

	_, err = execute(t, &fakeMigrator{}, "force", "--", "-1")
	require.Error(t, err)
}

func TestMigrate_Version(t *testing.T) {
	m := &fakeMigrator{version: 4}
	_, err := execute(t, m, "version")
	require.NoError(t, err)
	assert.Empty(t, m.calls)
	assert.True(t, m.closed)
}

func TestMigrate_ActionError(t *testing.T) {
	m := &fakeMigrator{failOn: "up"}
	_, err := execute(t, m, "up")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migrate up")
	assert.True(t, m.closed)
}

func TestMigrate_OpenError(t *testing.T) {
	cmd := newRootCmd(func(context.Context, string, zerolog.Logger) (migrator, func(), error) {
		return nil, nil, errors.New("connect to database: refused")
	})
	cmd.SetArgs([]string{"up"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestMigrate_RejectsExtraArgs(t *testing.T) {
	_, err := execute(t, &fakeMigrator{}, "up", "now")
	require.Error(t, err)
}
