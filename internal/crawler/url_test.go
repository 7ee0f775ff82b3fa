package crawler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"HTTPS://Example.COM":                  "https://example.com/",
		"https://example.com/":                 "https://example.com/",
		"https://example.com:443/docs/":        "https://example.com/docs",
		"http://example.com:80/a/b/#section":   "http://example.com/a/b",
		"https://example.com/search?b=2&a=1":   "https://example.com/search?a=1&b=2",
		"https://user:pw@example.com/private/": "https://example.com/private",
		"https://example.com:8443/x":           "https://example.com:8443/x",
	}
	for in, want := range cases {
		got, err := NormalizeURL(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}
}

func TestNormalizeURLRejectsNonHTTP(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"mailto:a@example.com", "/relative/path", "ftp://example.com/file", ""} {
		_, err := NormalizeURL(in)
		require.Error(t, err, in)
	}
	_, err := NormalizeURL("javascript:void(0)")
	require.True(t, errors.Is(err, ErrInvalidURL))
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.com", RegistrableDomain("www.example.com"))
	require.Equal(t, "example.com", RegistrableDomain("docs.example.com:8080"))
	require.Equal(t, "example.co.uk", RegistrableDomain("shop.example.co.uk"))
	require.Equal(t, "127.0.0.1:9000", RegistrableDomain("127.0.0.1:9000"))
	require.Equal(t, "localhost", RegistrableDomain("localhost:8080"))
	require.True(t, SameSite("blog.python.org", "www.python.org"))
	require.False(t, SameSite("python.org", "example.org"))
}
