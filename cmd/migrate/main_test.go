package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRootMatchesGeteuid(t *testing.T) {
	assert.Equal(t, os.Geteuid() == 0, isRoot())
}
