package tally

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

// point collects a single line-protocol record: a measurement, a tag set and a field set.
// Encoding is left to lineprotocol.Encoder, which owns escaping and validation.
type point struct {
	measurement string
	tags        []pointTag
	fields      []pointField
	err         error
}

type pointTag struct {
	key, value string
}

type pointField struct {
	key   string
	value lineprotocol.Value
}

func newPoint(measurement string) *point {
	return &point{measurement: measurement}
}

// tag adds a tag to the point. Tags with an empty value are skipped.
func (p *point) tag(key, value string) *point {
	if value == "" {
		return p
	}
	p.tags = append(p.tags, pointTag{key: key, value: value})
	return p
}

// intField adds a count. Counts go out as plain numbers, without the integer suffix,
// so the sink stores every field of a measurement with the same type.
func (p *point) intField(key string, value int64) *point {
	return p.floatField(key, float64(value))
}

func (p *point) floatField(key string, value float64) *point {
	v, ok := lineprotocol.FloatValue(value)
	if !ok {
		if p.err == nil {
			p.err = fmt.Errorf("field %q of %q: non-finite value %v", key, p.measurement, value)
		}
		return p
	}
	p.fields = append(p.fields, pointField{key: key, value: v})
	return p
}

// encode writes the point to enc. Tags are sorted by key as the encoder requires.
func (p *point) encode(enc *lineprotocol.Encoder) error {
	if p.err != nil {
		return p.err
	}
	if len(p.fields) == 0 {
		return fmt.Errorf("encoding %q: no fields", p.measurement)
	}
	tags := slices.Clone(p.tags)
	slices.SortFunc(tags, func(a, b pointTag) int { return strings.Compare(a.key, b.key) })

	enc.StartLine(p.measurement)
	for _, t := range tags {
		enc.AddTag(t.key, t.value)
	}
	for _, f := range p.fields {
		enc.AddField(f.key, f.value)
	}
	enc.EndLine(time.Time{})
	if err := enc.Err(); err != nil {
		return fmt.Errorf("encoding %q: %w", p.measurement, err)
	}
	return nil
}

// encodeLines renders each point as one line, without timestamp or trailing newline.
func encodeLines(points ...*point) ([]string, error) {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		var enc lineprotocol.Encoder
		if err := p.encode(&enc); err != nil {
			return nil, err
		}
		lines = append(lines, strings.TrimSuffix(string(enc.Bytes()), "\n"))
	}
	return lines, nil
}
