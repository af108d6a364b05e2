package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestToAbsoluteURL verifies relative links resolve and fragments drop
func TestToAbsoluteURL(t *testing.T) {
	base, err := url.Parse("https://dir.example/list?page=1")
	require.NoError(t, err)
	got, err := ToAbsoluteURL(base, "/list?page=2#top")
	require.NoError(t, err)
	assert.Equal(t, "https://dir.example/list?page=2", got)

	base, err = url.Parse("https://dir.example/a/b")
	require.NoError(t, err)
	got, err = ToAbsoluteURL(base, " contact ")
	require.NoError(t, err)
	assert.Equal(t, "https://dir.example/a/contact", got)
}

// TestHostname verifies normalization of hosts
func TestHostname(t *testing.T) {
	assert.Equal(t, "acme.example", Hostname("https://WWW.Acme.example/about"))
	assert.Equal(t, "", Hostname("::not a url"))
}

// TestIsHTTPURL verifies scheme checks
func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("https://acme.example"))
	assert.False(t, IsHTTPURL("mailto:info@acme.example"))
	assert.False(t, IsHTTPURL("acme.example"))
}
