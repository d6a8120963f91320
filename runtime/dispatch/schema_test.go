package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaRegistry_ValidatesRegisteredType(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.Register("review", []byte(`{
		"type": "object",
		"required": ["repo"],
		"properties": {"repo": {"type": "string"}}
	}`)))

	assert.NoError(t, r.Validate("review", []byte(`{"repo":"jobctl/jobctl"}`)))
	assert.Error(t, r.Validate("review", []byte(`{}`)))
}

func TestSchemaRegistry_UnregisteredTypePassesThrough(t *testing.T) {
	r := NewSchemaRegistry()
	assert.NoError(t, r.Validate("unregistered-type", []byte(`{"anything":"goes"}`)))
}

func TestSchemaRegistry_RejectsMalformedPayload(t *testing.T) {
	r := NewSchemaRegistry()
	require.NoError(t, r.Register("review", []byte(`{"type":"object"}`)))
	assert.Error(t, r.Validate("review", []byte(`not json`)))
}
