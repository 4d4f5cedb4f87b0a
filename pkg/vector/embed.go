package vector

import (
	"hash/fnv"
	"math"
	"strings"
)

// GenerateEmbedding produces a deterministic, fixed-width bag-of-words
// embedding: each token is hashed into one of Dimensions buckets and the
// resulting vector is L2-normalized. This is NOT a semantic embedding model
// — it gives the vector mirror a self-contained fallback that needs no
// model download or external API call, at the cost of only capturing
// lexical overlap rather than meaning. Swapping in a real embedding model
// later only requires changing this function; the vec0 schema and search
// path are model-agnostic as long as the width stays Dimensions.
func GenerateEmbedding(text string) []float32 {
	vec := make([]float32, Dimensions)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := int(h.Sum32() % uint32(Dimensions))
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
	return vec
}
