package db

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// EncodeVector renders an embedding as a pgvector bracket literal,
// e.g. [0.1,-0.25,3]. An empty slice encodes as [].
func EncodeVector(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// ParseVector decodes a pgvector bracket literal back into a float32 slice.
// Empty input and the empty literal [] both decode to nil.
func ParseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, eris.Errorf("db: malformed vector literal: %q", s)
	}
	s = strings.TrimSpace(s[1 : len(s)-1])
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, eris.Wrapf(err, "db: parse vector component %d", i)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
