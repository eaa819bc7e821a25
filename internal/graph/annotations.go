package graph

import "sort"

// Annotation tags elements of a subgraph, e.g. to mark ownership across
// partitioning passes.
type Annotation string

// Annotations is a multimap from tag to element IDs. IDs keep the order in
// which they were first added.
type Annotations map[Annotation][]string

// Add appends ids under tag, skipping ids already present.
func (a Annotations) Add(tag Annotation, ids ...string) {
	existing := a[tag]
	for _, id := range ids {
		if !containsString(existing, id) {
			existing = append(existing, id)
		}
	}
	if len(existing) > 0 {
		a[tag] = existing
	}
}

// AddAll merges other into a.
func (a Annotations) AddAll(other Annotations) {
	for _, tag := range other.Tags() {
		a.Add(tag, other[tag]...)
	}
}

// Get returns the ids tagged with tag.
func (a Annotations) Get(tag Annotation) []string {
	return append([]string(nil), a[tag]...)
}

// Has reports whether id carries tag.
func (a Annotations) Has(tag Annotation, id string) bool {
	return containsString(a[tag], id)
}

// Elements returns the union of ids tagged with any of tags.
func (a Annotations) Elements(tags ...Annotation) []string {
	var out []string
	for _, tag := range tags {
		for _, id := range a[tag] {
			if !containsString(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}

// Tags returns the tags in lexical order.
func (a Annotations) Tags() []Annotation {
	tags := make([]Annotation, 0, len(a))
	for tag := range a {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Clone returns a deep copy. Cloning a nil multimap returns an empty one.
func (a Annotations) Clone() Annotations {
	out := make(Annotations, len(a))
	for tag, ids := range a {
		out[tag] = append([]string(nil), ids...)
	}
	return out
}

// Len returns the number of tags.
func (a Annotations) Len() int { return len(a) }

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
