package besteffort

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestResultRecordsFailuresInOrder(t *testing.T) {
	var res Result
	ctx := context.Background()

	ran := 0
	res.Do(ctx, "sync_user", func(ctx context.Context) error {
		ran++
		return errors.New("user row locked")
	})
	res.Do(ctx, "audit", func(ctx context.Context) error {
		ran++
		return nil
	})
	res.Do(ctx, "notify", func(ctx context.Context) error {
		ran++
		return errors.New("smtp down")
	})

	require.Equal(t, 3, ran)
	require.False(t, res.OK())
	require.Equal(t, []Warning{
		{Step: "sync_user", Message: "user row locked"},
		{Step: "notify", Message: "smtp down"},
	}, res.Warnings())
	require.Len(t, multierr.Errors(res.Err()), 2)
	require.ErrorContains(t, res.Err(), "notify: smtp down")
}

func TestResultRecoversPanics(t *testing.T) {
	var res Result
	res.Do(context.Background(), "explode", func(ctx context.Context) error {
		panic("boom")
	})

	require.False(t, res.OK())
	require.Equal(t, "panic: boom", res.Warnings()[0].Message)
}

func TestFieldsOnlyAddsWarningsOnFailure(t *testing.T) {
	var res Result
	res.Do(context.Background(), "noop", func(ctx context.Context) error { return nil })

	fields := res.Fields(map[string]any{"message": "ok"})
	require.NotContains(t, fields, "warnings")

	res.Do(context.Background(), "fail", func(ctx context.Context) error { return errors.New("x") })
	fields = res.Fields(nil)
	require.Contains(t, fields, "warnings")
}

func TestNilResultIsSafe(t *testing.T) {
	var res *Result
	res.Do(context.Background(), "fail", func(ctx context.Context) error { return errors.New("x") })

	require.True(t, res.OK())
	require.Nil(t, res.Warnings())
	require.NoError(t, res.Err())
}
