package oauth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()

	v, err := s.Read("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	value := []byte("secret")
	require.NoError(t, s.Save("k", value))
	value[0] = 'X'

	v, err = s.Read("k")
	require.NoError(t, err)
	assert.Equal(t, "secret", string(v))

	v[0] = 'Y'
	v, _ = s.Read("k")
	assert.Equal(t, "secret", string(v))

	assert.Equal(t, 1, s.Len())
	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.Delete("k"))
	assert.Equal(t, 0, s.Len())
}
