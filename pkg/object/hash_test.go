package object

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashObjectKnownIDs(t *testing.T) {
	tests := []struct {
		typ  ObjectType
		data string
		want string
	}{
		{TypeBlob, "", "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"},
		{TypeBlob, "hello world\n", "3b18e512dba79e4c8300dd08aeb37f8e728b8dad"},
		{TypeBlob, "what is up, doc?", "bd9dbf5aae1a3862dd1526723246b20206e5fc37"},
		{TypeTree, "", "4b825dc642cb6eb9a060e54bf8d69288fbee4904"},
	}
	for _, tt := range tests {
		got := HashObject(tt.typ, []byte(tt.data))
		assert.Equal(t, tt.want, got.String(), "%s %q", tt.typ, tt.data)
	}
}

func TestHashObjectTypeMatters(t *testing.T) {
	data := []byte("hello")
	assert.NotEqual(t, HashObject(TypeBlob, data), HashObject(TypeCommit, data))
	assert.Equal(t, HashObject(TypeBlob, data), (&Object{Type: TypeBlob, Content: data}).Hash())
}

func TestParseHash(t *testing.T) {
	const hex = "3b18e512dba79e4c8300dd08aeb37f8e728b8dad"
	h, err := ParseHash(hex)
	require.NoError(t, err)
	assert.Equal(t, hex, h.String())
	assert.Equal(t, byte(0x3b), h[0])

	upper, err := ParseHash("3B18E512DBA79E4C8300DD08AEB37F8E728B8DAD")
	require.NoError(t, err)
	assert.Equal(t, h, upper)
}

func TestParseHashRejects(t *testing.T) {
	for _, bad := range []string{
		"",
		"3b18e512",
		"3b18e512dba79e4c8300dd08aeb37f8e728b8dad00",
		"zz18e512dba79e4c8300dd08aeb37f8e728b8dad",
	} {
		_, err := ParseHash(bad)
		var fe *FormatError
		assert.True(t, errors.As(err, &fe), "ParseHash(%q) = %v", bad, err)
	}
}

func TestHashFromBytes(t *testing.T) {
	want := HashObject(TypeBlob, nil)
	got, err := HashFromBytes(want[:])
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = HashFromBytes(want[:19])
	assert.Error(t, err)
}

func TestHashTextMarshaling(t *testing.T) {
	h := HashObject(TypeBlob, []byte("x"))
	data, err := json.Marshal(map[string]Hash{"id": h})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+h.String()+`"}`, string(data))

	var back map[string]Hash
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, h, back["id"])
	assert.True(t, ZeroHash.IsZero())
	assert.False(t, h.IsZero())
}
