package dagmigrate_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/influxdata/dagmigrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringCodec(t *testing.T) {
	var c dagmigrate.Codec[string] = dagmigrate.StringCodec{}

	b, err := c.Encode("20240101_create_users")
	require.NoError(t, err)
	assert.Equal(t, []byte("20240101_create_users"), b)

	id, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "20240101_create_users", id)

	_, err = c.Encode("")
	assert.Error(t, err)
	_, err = c.Decode(nil)
	assert.Error(t, err)
}

func TestUUIDCodec(t *testing.T) {
	var c dagmigrate.Codec[uuid.UUID] = dagmigrate.UUIDCodec{}
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	b, err := c.Encode(id)
	require.NoError(t, err)
	assert.Len(t, b, 16)

	got, err := c.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = c.Decode([]byte("short"))
	assert.Error(t, err)
}

func TestIDSet(t *testing.T) {
	s := dagmigrate.NewIDSet("a", "b", "a")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("a"))

	c := s.Clone()
	c.Delete("a")
	c.Add("z")
	assert.True(t, s.Has("a"), "clone must not alias")
	assert.False(t, s.Has("z"))
	assert.False(t, c.Has("a"))
}

func TestMeta(t *testing.T) {
	deps := []string{"a", "b"}
	m := dagmigrate.NewMeta("c", "Create c", deps...)
	deps[0] = "mutated"

	assert.Equal(t, "c", m.ID())
	assert.Equal(t, "Create c", m.Description())
	assert.Equal(t, []string{"a", "b"}, m.Dependencies())

	m.Dependencies()[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, m.Dependencies())

	assert.Empty(t, dagmigrate.NewMeta("root", "Root").Dependencies())
}
