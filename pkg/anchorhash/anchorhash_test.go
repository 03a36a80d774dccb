package anchorhash

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsDeterministic(t *testing.T) {
	a := Compute("S100", "PK1")
	b := Compute("S100", "PK1")
	assert.Equal(t, a, b)
	assert.True(t, Valid(a))
}

func TestComputeDistinguishesPairs(t *testing.T) {
	pairs := [][2]string{
		{"S100", "PK1"},
		{"S101", "PK1"},
		{"S100", "PK2"},
		{"a:b", "c"},
		{"a", "b:c"},
		{"ab", "c"},
		{"a", "bc"},
		{"", "abc"},
		{"abc", ""},
	}
	for i := 0; i < 50; i++ {
		pairs = append(pairs, [2]string{fmt.Sprintf("CERT-%03d", i), "PK1"})
	}

	seen := make(map[string][2]string, len(pairs))
	for _, p := range pairs {
		h := Compute(p[0], p[1])
		if prev, dup := seen[h]; dup {
			t.Fatalf("collision between %v and %v", prev, p)
		}
		seen[h] = p
	}
}

func TestValid(t *testing.T) {
	assert.False(t, Valid("abc"))
	assert.False(t, Valid(string(make([]byte, Size))))
}
