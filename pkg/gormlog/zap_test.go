package gormlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShortCaller(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/home/ci/handbok/internal/store/gdpr.go:38", "internal/store/gdpr.go:38"},
		{`C:\repo\handbok\pkg\x\y.go:12`, "pkg/x/y.go:12"},
		{"/a/b/c/d.go:1", "b/c/d.go:1"},
		{"/x.go:9", "x.go:9"},
		{"", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, shortCaller(tt.in), tt.in)
	}
}
