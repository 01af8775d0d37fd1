package classifier

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultFallback is the catch-all category used for low-confidence predictions.
const DefaultFallback = "Other"

// DefaultLabels is the built-in spending category vocabulary.
var DefaultLabels = []string{
	"Food",
	"Electronics",
	"Clothing",
	"Healthcare",
	"Entertainment",
	"Travel",
	"Household",
	"Other",
}

// Categories is a closed, ordered category vocabulary with a designated
// fallback member. It is immutable after construction.
type Categories struct {
	labels   []string
	fallback string
	index    map[string]int
}

// NewCategories validates labels and builds a vocabulary. The fallback must
// be one of the labels and labels must be unique and non-empty.
func NewCategories(labels []string, fallback string) (*Categories, error) {
	if len(labels) < 2 {
		return nil, fmt.Errorf("category set needs at least 2 labels, got %d", len(labels))
	}
	index := make(map[string]int, len(labels))
	clean := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.TrimSpace(l)
		if l == "" {
			return nil, fmt.Errorf("empty category label")
		}
		if _, dup := index[l]; dup {
			return nil, fmt.Errorf("duplicate category label %q", l)
		}
		index[l] = len(clean)
		clean = append(clean, l)
	}
	if _, ok := index[fallback]; !ok {
		return nil, fmt.Errorf("fallback category %q is not in the category set", fallback)
	}
	return &Categories{labels: clean, fallback: fallback, index: index}, nil
}

// ParseCategories builds a vocabulary from a comma separated list.
func ParseCategories(list, fallback string) (*Categories, error) {
	return NewCategories(strings.Split(list, ","), fallback)
}

// DefaultCategories returns the built-in vocabulary.
func DefaultCategories() *Categories {
	c, err := NewCategories(DefaultLabels, DefaultFallback)
	if err != nil {
		panic(err)
	}
	return c
}

// Labels returns a copy of the ordered labels.
func (c *Categories) Labels() []string {
	return slices.Clone(c.labels)
}

// Fallback returns the catch-all label.
func (c *Categories) Fallback() string {
	return c.fallback
}

// Len is the number of labels.
func (c *Categories) Len() int {
	return len(c.labels)
}

// Contains reports whether label is a member of the vocabulary.
func (c *Categories) Contains(label string) bool {
	_, ok := c.index[label]
	return ok
}

// Index returns the position of label, or -1.
func (c *Categories) Index(label string) int {
	if i, ok := c.index[label]; ok {
		return i
	}
	return -1
}

// Label returns the label at position i.
func (c *Categories) Label(i int) string {
	return c.labels[i]
}

// Equal reports whether labels is exactly this vocabulary in the same order.
func (c *Categories) Equal(labels []string) bool {
	return slices.Equal(c.labels, labels)
}
