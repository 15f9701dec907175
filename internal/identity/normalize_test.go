package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollapseCaseAndWhitespaceInsensitive(t *testing.T) {
	assert.Equal(t, Collapse("Alice"), Collapse("ALICE"))
	assert.Equal(t, Collapse("Alice Smith"), Collapse("  alice   smith  "))
	assert.Equal(t, Collapse("AliceSmith"), Collapse("Alice Smith"))
}

func TestCollapseStripsDiacritics(t *testing.T) {
	assert.Equal(t, Collapse("jose"), Collapse("José"))
	assert.Equal(t, Collapse("Zoe"), Collapse("Zoë"))
}

func TestCollapseEmptyAndWhitespaceOnly(t *testing.T) {
	assert.Equal(t, "", Collapse(""))
	assert.Equal(t, "", Collapse("   \t\n  "))
}

func TestCollapseIsIdempotent(t *testing.T) {
	once := Collapse("  Renée  ")
	twice := Collapse(once)
	assert.Equal(t, once, twice)
}

func TestFallbackName(t *testing.T) {
	assert.Equal(t, "user0", FallbackName(0))
	assert.Equal(t, "user101", FallbackName(101))
}
