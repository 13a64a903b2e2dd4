package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(NotFound, "could not find it")
	assert.Equal(t, NotFound, err.Kind())
	assert.Equal(t, "NotFound: could not find it", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestNewfFormats(t *testing.T) {
	err := Newf(InsufficientSpace, "need %d, have %d", 10, 3)
	assert.Equal(t, "InsufficientSpace: need 10, have 3", err.Error())
}

func TestWrapPreservesCauseAndKind(t *testing.T) {
	cause := errors.New("disk exploded")
	err := Wrap(IoError, cause, "write appliance image")
	assert.Equal(t, IoError, err.Kind())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "write appliance image")
	assert.Contains(t, err.Error(), "disk exploded")
}

func TestToolMissingForNamesTheTool(t *testing.T) {
	err := ToolMissingFor("partprobe")
	assert.Equal(t, ToolMissing, err.Kind())
	assert.Contains(t, err.Error(), "partprobe")
}

func TestIsMatchesDirectKind(t *testing.T) {
	err := New(Unsupported, "nope")
	assert.True(t, Is(err, Unsupported))
	assert.False(t, Is(err, NotFound))
}

func TestIsWalksThroughWrappedKind(t *testing.T) {
	inner := New(InsufficientSpace, "not enough room")
	outer := Wrap(CommitFailed, inner, "boot manager setup failed")

	assert.True(t, Is(outer, CommitFailed))
	assert.True(t, Is(outer, InsufficientSpace), "Is must walk into a wrapped *Error whose own kind differs from the outer one")
	assert.False(t, Is(outer, NotFound))
}

func TestIsFalseOnPlainError(t *testing.T) {
	assert.False(t, Is(errors.New("plain"), NotFound))
	assert.False(t, Is(nil, NotFound))
}

func TestKindStringCoversTaxonomy(t *testing.T) {
	kinds := []Kind{
		NotFound, InvalidParameter, NotImplemented, NoMatch, EnumFailed,
		InsufficientSpace, Unsupported, ToolMissing, IoError, BackupFailed, CommitFailed,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		s := k.String()
		assert.NotEqual(t, "Unknown", s)
		assert.False(t, seen[s], "duplicate Kind.String() value %q", s)
		seen[s] = true
	}
	assert.Equal(t, "Unknown", Kind(999).String())
}
