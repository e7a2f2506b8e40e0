package tool

import (
	"regexp"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestGenerateUUIDV7(t *testing.T) {
	id := GenerateUUIDV7()
	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	require.Equal(t, uuid.Version(7), parsed.Version())
}

func TestDownloadToken(t *testing.T) {
	a, err := DownloadToken()
	require.NoError(t, err)
	b, err := DownloadToken()
	require.NoError(t, err)
	require.Len(t, a, 64)
	require.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), a)
	require.NotEqual(t, a, b)
}
