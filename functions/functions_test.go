package functions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type echoFunc struct{}

func (echoFunc) Schema() Schema {
	return Schema{
		Name:        "Echo_echo",
		Description: "Echoes the input back.",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Required: true},
			{Name: "count", Type: "integer"},
		},
	}
}

func (echoFunc) Call(_ context.Context, args map[string]any) (string, error) {
	text, _ := args["text"].(string)
	return text, nil
}

func TestRegisterAndResolve(t *testing.T) {
	Register(func() Callable { return echoFunc{} })

	callables, missing := Resolve([]string{"Echo_echo", "No_suchFunction"})
	require.Len(t, callables, 1)
	require.Equal(t, []string{"No_suchFunction"}, missing)
	require.Contains(t, Names(), "Echo_echo")

	out, err := callables[0].Call(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.Equal(t, "hi", out)
}

func TestValidateArgs(t *testing.T) {
	schema := echoFunc{}.Schema()
	require.NoError(t, ValidateArgs(schema, map[string]any{"text": "hi"}))

	err := ValidateArgs(schema, map[string]any{"count": 2.0})
	require.Error(t, err, "missing required parameter")

	err = ValidateArgs(schema, map[string]any{"text": 42.0})
	require.Error(t, err, "wrong type")
}

func TestFatalError(t *testing.T) {
	cause := errors.New("disk gone")
	err := Fatal(cause)
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	require.ErrorIs(t, err, cause)
	require.Nil(t, Fatal(nil))
}
