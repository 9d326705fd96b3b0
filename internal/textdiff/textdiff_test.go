package textdiff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLines_Equal(t *testing.T) {
	assert.Equal(t, "", Lines("a\nb\n", "a\nb\n"))
}

func TestLines_Change(t *testing.T) {
	got := Lines("a\nb\nc\n", "a\nx\nc\n")
	assert.Equal(t, "  a\n- b\n+ x\n  c\n", got)
}

func TestLines_CollapsesLongEqualRuns(t *testing.T) {
	common := strings.Repeat("same\n", 10)
	got := Lines(common+"old\n", common+"new\n")
	assert.Contains(t, got, "  ...\n")
	assert.Contains(t, got, "- old\n")
	assert.Contains(t, got, "+ new\n")
	assert.Equal(t, 3+1+3+2, strings.Count(got, "\n"))
}

func TestXML(t *testing.T) {
	got := XML(`<a><b x="1" /><c /></a>`, `<a><b x="2" /><c /></a>`)
	assert.Contains(t, got, `- <b x="1" />`)
	assert.Contains(t, got, `+ <b x="2" />`)
	assert.Contains(t, got, "  <c />")
}
