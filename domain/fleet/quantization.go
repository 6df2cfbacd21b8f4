package fleet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Quantization is an ordered compression-level label attached to a model
// file, from most-compressed (smallest, fastest) to least.
type Quantization int

const (
	Q2 Quantization = iota
	Q3
	Q4
	Q5
	Q6
	Q8
	F16
)

var quantizationTags = map[Quantization]string{
	Q2:  "q2_k",
	Q3:  "q3_k_m",
	Q4:  "q4_k_m",
	Q5:  "q5_k_m",
	Q6:  "q6_k",
	Q8:  "q8_0",
	F16: "f16",
}

var tagsToQuantization = func() map[string]Quantization {
	m := make(map[string]Quantization, len(quantizationTags))
	for q, tag := range quantizationTags {
		m[tag] = q
	}
	return m
}()

// String returns the canonical tag for q.
func (q Quantization) String() string {
	if tag, ok := quantizationTags[q]; ok {
		return tag
	}
	return "unknown"
}

// ParseQuantization accepts either a canonical tag string (e.g. "q4_k_m")
// or the bare ordinal, normalizing both forms into the internal enum.
func ParseQuantization(raw string) (Quantization, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if q, ok := tagsToQuantization[trimmed]; ok {
		return q, nil
	}
	if n, err := strconv.Atoi(trimmed); err == nil {
		if n < int(Q2) || n > int(F16) {
			return 0, fmt.Errorf("quantization ordinal %d out of range", n)
		}
		return Quantization(n), nil
	}
	return 0, fmt.Errorf("unrecognized quantization %q", raw)
}

// MarshalJSON emits the canonical tag string, never the bare ordinal, so
// downstream readers never have to handle both forms on output.
func (q Quantization) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.String())
}

// UnmarshalJSON accepts either a tag string or a bare numeric ordinal,
// normalizing to the internal enum per the dual-form boundary rule.
func (q *Quantization) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := ParseQuantization(asString)
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	}

	var asNumber int
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return fmt.Errorf("quantization must be a tag string or ordinal: %w", err)
	}
	if asNumber < int(Q2) || asNumber > int(F16) {
		return fmt.Errorf("quantization ordinal %d out of range", asNumber)
	}
	*q = Quantization(asNumber)
	return nil
}
