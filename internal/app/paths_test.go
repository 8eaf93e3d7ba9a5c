package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePaths(t *testing.T) {
	p := ResolvePaths("/h")
	assert.Equal(t, "/h/var", p.Var)
	assert.Equal(t, "/h/var/runs", p.Runs)
	assert.Equal(t, "/h/predicates", p.Predicates)
	assert.Equal(t, "/h/setting.json", p.Setting)
	assert.Equal(t, "/h/var/runs/R1", p.RunDir("R1"))
}
