package proxy

import (
	"testing"

	"github.com/floegence/previewdev/deverrors"
	"github.com/stretchr/testify/require"
)

func TestRewriteLocation(t *testing.T) {
	cases := []struct {
		name     string
		location string
		https    bool
		want     string
	}{
		{
			name:     "https upstream to http local",
			location: "https://upstream.example/path",
			want:     "http://localhost:8787/path",
		},
		{
			name:     "http upstream to https local",
			location: "http://upstream.example/path",
			https:    true,
			want:     "https://localhost:8787/path",
		},
		{
			name:     "scheme already matches",
			location: "https://upstream.example/",
			https:    true,
			want:     "https://localhost:8787/",
		},
		{
			name:     "query and fragment kept",
			location: "https://upstream.example/a%2Fb?next=%2Fhome&x=1#top",
			want:     "http://localhost:8787/a%2Fb?next=%2Fhome&x=1#top",
		},
		{
			name:     "upstream port replaced",
			location: "https://upstream.example:443/login",
			want:     "http://localhost:8787/login",
		},
		{
			name:     "hostname compared case-insensitively",
			location: "https://UPSTREAM.example/x",
			want:     "http://localhost:8787/x",
		},
		{
			name:     "other domain untouched",
			location: "https://other.example/path",
			want:     "https://other.example/path",
		},
		{
			name:     "subdomain of upstream untouched",
			location: "https://api.upstream.example/path",
			want:     "https://api.upstream.example/path",
		},
		{
			name:     "relative target untouched",
			location: "/login?next=/",
			want:     "/login?next=/",
		},
		{
			name:     "non-http scheme untouched",
			location: "mailto:someone@upstream.example",
			want:     "mailto:someone@upstream.example",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RewriteLocation(tc.location, "upstream.example", "localhost:8787", tc.https)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRewriteLocation_UnparseableIsRewriteError(t *testing.T) {
	loc := "https://upstream.example/%zz"
	got, err := RewriteLocation(loc, "upstream.example", "localhost:8787", false)
	require.Error(t, err)
	require.True(t, deverrors.IsRewrite(err))
	require.Equal(t, loc, got)
}

func TestIsRedirect(t *testing.T) {
	require.True(t, isRedirect(301))
	require.True(t, isRedirect(302))
	require.True(t, isRedirect(307))
	require.True(t, isRedirect(308))
	require.False(t, isRedirect(200))
	require.False(t, isRedirect(404))
}
