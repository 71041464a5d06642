package chain

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThen(t *testing.T) {
	parse := Step[string, int](func(_ context.Context, s string) (int, error) {
		return strconv.Atoi(s)
	})
	double := Map(func(n int) int { return n * 2 })
	format := Map(func(n int) string { return "=" + strconv.Itoa(n) })

	pipeline := Then(Then(parse, double), format)

	out, err := pipeline(context.Background(), "21")
	require.NoError(t, err)
	assert.Equal(t, "=42", out)
}

func TestThen_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	called := false

	first := Step[string, string](func(context.Context, string) (string, error) {
		return "", boom
	})
	second := Step[string, string](func(_ context.Context, s string) (string, error) {
		called = true
		return strings.ToUpper(s), nil
	})

	out, err := Then(first, second)(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, out)
	assert.False(t, called)
}

func TestThen_PassesContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "request-1")

	read := Step[int, string](func(ctx context.Context, _ int) (string, error) {
		return ctx.Value(key{}).(string), nil
	})

	out, err := Then(Map(func(n int) int { return n }), read)(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "request-1", out)
}
