package database

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
)

// RankResidents orders residents by Euclidean distance to q, keeping the input
// order for equal distances, and returns at most limit of them (limit <= 0 means all).
func RankResidents(residents []Resident, q []float32, limit int) ([]Resident, []float64, error) {
	dists := make([]float64, len(residents))
	order := make([]int, len(residents))
	for i, r := range residents {
		d, err := facematch.Distance(q, r.Embedding)
		if err != nil {
			return nil, nil, fmt.Errorf("resident %q: %w", r.Name, err)
		}
		dists[i] = d
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return dists[order[a]] < dists[order[b]] })
	if limit > 0 && len(order) > limit {
		order = order[:limit]
	}

	outResidents := make([]Resident, len(order))
	outDists := make([]float64, len(order))
	for i, idx := range order {
		outResidents[i] = residents[idx]
		outDists[i] = dists[idx]
	}
	return outResidents, outDists, nil
}

// EncodeEmbedding encodes float32 values as a little-endian BLOB without a length prefix.
func EncodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	b := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
	}
	return b
}

// DecodeEmbedding decodes a BLOB produced by EncodeEmbedding.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d (not multiple of 4)", len(b))
	}
	vec := make([]float32, len(b)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return vec, nil
}
