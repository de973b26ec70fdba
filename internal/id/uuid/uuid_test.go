package uuid

import (
	"strings"
	"testing"

	goUUID "github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := New()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	parsed, err := goUUID.Parse(id1)
	require.NoError(t, err)
	require.Equal(t, goUUID.Version(7), parsed.Version())
}

func TestGeneratorRowKey(t *testing.T) {
	t.Parallel()

	gen := New()
	key, err := gen.RowKey("101120000001")
	require.NoError(t, err)
	require.Equal(t, "101120000001", key)

	key, err = gen.RowKey("")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(key, GeneratedKeyPrefix))
	_, err = goUUID.Parse(strings.TrimPrefix(key, GeneratedKeyPrefix))
	require.NoError(t, err)
}
