package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	for _, id := range []string{id1, id2} {
		parsed, err := guuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, guuid.Version(7), parsed.Version())
	}
	assert.Less(t, id1, id2, "v7 ids sort by creation time")
}
