package conductor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EmptyIsAlwaysTrue(t *testing.T) {
	e, err := Parse("")
	require.NoError(t, err)
	fired, err := Eval(e, map[string]any{})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestEval_FieldEquality(t *testing.T) {
	e, err := Parse(`context.status == "ok"`)
	require.NoError(t, err)

	fired, err := Eval(e, map[string]any{"status": "ok"})
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = Eval(e, map[string]any{"status": "bad"})
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEval_MissingKeyDefaultsFalse(t *testing.T) {
	e, err := Parse(`context.missing == "x"`)
	require.NoError(t, err)
	fired, err := Eval(e, map[string]any{})
	assert.Error(t, err)
	assert.False(t, fired)
}

func TestEval_BooleanOperators(t *testing.T) {
	e, err := Parse(`context.a == "1" && context.b == "2"`)
	require.NoError(t, err)
	fired, err := Eval(e, map[string]any{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = Eval(e, map[string]any{"a": "1", "b": "3"})
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestEval_Negation(t *testing.T) {
	e, err := Parse(`!(context.ok == "true")`)
	require.NoError(t, err)
	fired, err := Eval(e, map[string]any{"ok": "false"})
	require.NoError(t, err)
	assert.True(t, fired)
}

func TestEval_Membership(t *testing.T) {
	e, err := Parse(`context.status in ["ok", "done"]`)
	require.NoError(t, err)

	fired, err := Eval(e, map[string]any{"status": "done"})
	require.NoError(t, err)
	assert.True(t, fired)

	fired, err = Eval(e, map[string]any{"status": "failed"})
	require.NoError(t, err)
	assert.False(t, fired)
}

func TestParse_RejectsFunctionCalls(t *testing.T) {
	_, err := Parse(`len(context.foo) == 1`)
	assert.Error(t, err)
}

func TestParse_RejectsBareIdentifierOutsideContext(t *testing.T) {
	_, err := Parse(`foo == "bar"`)
	assert.Error(t, err)
}
