package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com", "https://example.com/"},
		{"https://example.com/", "https://example.com/"},
		{"https://example.com/wine/", "https://example.com/wine"},
		{"https://example.com/wine?utm_source=x", "https://example.com/wine"},
		{"https://example.com/wine#list", "https://example.com/wine"},
		{"https://EXAMPLE.com/Wine", "https://example.com/Wine"},
		{"https://example.com/wine/?ref=home#top", "https://example.com/wine"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeURL(tt.in), tt.in)
	}
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	inputs := []string{
		"https://example.com/wine/?q=1#frag",
		"https://example.com",
		"https://example.com/a/b/c/",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		assert.Equal(t, once, NormalizeURL(once), in)
	}
}

func TestResolveLink(t *testing.T) {
	abs, ok := ResolveLink("https://example.com/menus", "/wine-list.pdf")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/wine-list.pdf", abs)

	abs, ok = ResolveLink("https://example.com/menus/", "drinks")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/menus/drinks", abs)

	_, ok = ResolveLink("https://example.com", "ftp://example.com/file")
	assert.False(t, ok)
}

func TestSameHost(t *testing.T) {
	assert.True(t, SameHost("https://www.example.com/a", "https://example.com/b"))
	assert.False(t, SameHost("https://example.com", "https://hub.binwise.com/x"))
}

func TestIsPDFURL(t *testing.T) {
	assert.True(t, IsPDFURL("https://example.com/wine-list.pdf"))
	assert.True(t, IsPDFURL("https://example.com/files/List.PDF?v=2"))
	assert.False(t, IsPDFURL("https://example.com/wine-list"))
}
