package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateEmbedding_IsDeterministic(t *testing.T) {
	a := GenerateEmbedding("database migration failed on sessions table")
	b := GenerateEmbedding("database migration failed on sessions table")
	require.Equal(t, a, b)
}

func TestGenerateEmbedding_IsUnitNormalized(t *testing.T) {
	vec := GenerateEmbedding("observation about a file read tool call")
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	require.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)
}

func TestGenerateEmbedding_EmptyTextIsZeroVector(t *testing.T) {
	vec := GenerateEmbedding("")
	for _, v := range vec {
		require.Zero(t, v)
	}
}

func TestCollectionName_SanitizesProjectPath(t *testing.T) {
	require.Equal(t, "cm__home_dev_my_project", collectionName("/home/dev/my-project"))
	require.Equal(t, "cm__default", collectionName(""))
}
