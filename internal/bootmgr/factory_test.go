package bootmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatchesByTag(t *testing.T) {
	cases := []struct {
		tag  Tag
		want Tag
	}{
		{TagUBoot, TagUBoot},
		{TagGrub, TagGrub},
		{TagRaspi, TagRaspi},
		{TagRaspi64, TagRaspi64},
		{TagEfi, TagEfi},
	}
	for _, c := range cases {
		mgr, err := New(BootType{Tag: c.tag}, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, c.want, mgr.BootType().Tag)
	}
}

func TestNewReturnsUnimplementedForWindowsVariants(t *testing.T) {
	for _, tag := range []Tag{TagMSWEfi, TagMSWBootMgr} {
		mgr, err := New(BootType{Tag: tag}, t.TempDir())
		require.NoError(t, err)

		_, canErr := mgr.CanMigrate(nil, nil, nil, "")
		require.Error(t, canErr)

		setupErr := mgr.Setup(nil, nil, "")
		require.Error(t, setupErr)

		assert.False(t, mgr.Restore(nil, nil))
	}
}

func TestNewRejectsUnrecognisedTag(t *testing.T) {
	_, err := New(BootType{Tag: Tag(99)}, t.TempDir())
	require.Error(t, err)
}

func TestEfiStubAlwaysReportsNotImplemented(t *testing.T) {
	e := NewEfi(t.TempDir())
	assert.Equal(t, TagEfi, e.BootType().Tag)

	_, err := e.CanMigrate(nil, nil, nil, "")
	require.Error(t, err)
	require.Error(t, e.Setup(nil, nil, ""))
	assert.False(t, e.Restore(nil, nil))
}
