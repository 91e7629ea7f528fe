package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomEngineGenerate(t *testing.T) {
	e := NewRandomEngine(6, testAlphabet)

	allowed := make(map[rune]bool, len(testAlphabet))
	for _, r := range testAlphabet {
		allowed[r] = true
	}

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := e.Generate()
		require.NoError(t, err)
		require.Len(t, code, 6)
		for _, r := range code {
			assert.True(t, allowed[r], "character %q outside alphabet", r)
		}
		seen[code] = true
	}

	// 500 draws from 62^6 codes collide with negligible probability.
	assert.Greater(t, len(seen), 490)
}

func TestRandomEngineRespectsAlphabet(t *testing.T) {
	e := NewRandomEngine(8, []rune("ab"))
	code, err := e.Generate()
	require.NoError(t, err)
	for _, r := range code {
		assert.Contains(t, []rune("ab"), r)
	}
}
