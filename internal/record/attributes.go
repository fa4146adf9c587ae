package record

import (
	"sort"
	"strings"
)

// Attributes is a flat attribute set of one record.
type Attributes map[Tag]string

// Get returns the value of tag and whether it is present.
func (a Attributes) Get(tag Tag) (string, bool) {
	v, ok := a[tag]
	return v, ok
}

// Has reports whether tag is present.
func (a Attributes) Has(tag Tag) bool {
	_, ok := a[tag]
	return ok
}

// Tags returns the present tags in lexical order.
func (a Attributes) Tags() []Tag {
	tags := make([]Tag, 0, len(a))
	for t := range a {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Clone returns an independent copy.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Extract returns the main attributes of level present in a.
func (a Attributes) Extract(level Level) Attributes {
	out := make(Attributes)
	for _, tag := range MainTags(level) {
		if v, ok := a[tag]; ok {
			out[tag] = v
		}
	}
	return out
}

// Ancestry returns the identifying values from the patient down to level.
func (a Attributes) Ancestry(level Level) []string {
	values := make([]string, 0, level+1)
	for l := LevelPatient; l <= level; l++ {
		values = append(values, a[IdentifyingTag(l)])
	}
	return values
}

// MissingRequired returns the identifying tags that are absent, in
// hierarchy order.
func (a Attributes) MissingRequired() []Tag {
	var missing []Tag
	for _, l := range Levels {
		tag := IdentifyingTag(l)
		if v, ok := a[tag]; !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, tag)
		}
	}
	return missing
}

// DescribeIdentity renders the present identifying tags as
// "PatientID=..., StudyInstanceUID=...", for diagnostics.
func (a Attributes) DescribeIdentity() string {
	var parts []string
	for _, l := range Levels {
		tag := IdentifyingTag(l)
		if v, ok := a[tag]; ok && strings.TrimSpace(v) != "" {
			parts = append(parts, string(tag)+"="+v)
		}
	}
	return strings.Join(parts, ", ")
}
