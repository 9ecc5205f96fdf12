package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/covparse/pkg/errors"
)

func TestParsePathRemap(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		wantErr bool
	}{
		{"valid pair", "/build/src,/home/me/src", false},
		{"relative paths", "src,lib", false},
		{"missing separator", "/build/src", true},
		{"missing source", ",/home/me/src", true},
		{"missing destination", "/build/src,", true},
		{"too many paths", "a,b,c", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remap, err := ParsePathRemap(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetErrorCode(err))
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, remap)
		})
	}
}

func TestPathRemapRewrite(t *testing.T) {
	remap := NewPathRemap("/root/src", "/home/me/src")

	got, ok := remap.Rewrite("/root/src/lib.c")
	assert.True(t, ok)
	assert.Equal(t, "/home/me/src/lib.c", got)

	// Paths outside the source prefix pass through unchanged.
	got, ok = remap.Rewrite("/home/root/src/lib.c")
	assert.False(t, ok)
	assert.Equal(t, "/home/root/src/lib.c", got)

	// Prefixes match whole path elements only.
	_, ok = remap.Rewrite("/root/srcfile.c")
	assert.False(t, ok)

	// The prefix itself maps to the destination.
	got, ok = remap.Rewrite("/root/src")
	assert.True(t, ok)
	assert.Equal(t, "/home/me/src", got)
}

func TestPathRemapTrailingSlash(t *testing.T) {
	remap := NewPathRemap("/build/", "/local/")

	got, ok := remap.Rewrite("/build/a.c")
	assert.True(t, ok)
	assert.Equal(t, "/local/a.c", got)
}
