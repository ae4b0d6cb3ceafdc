package config

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// MissingKeyError is returned by Bag.Require for an unset value.
type MissingKeyError struct {
	Key string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("missing required configuration variable '%s'", e.Key)
}

// Bag holds the stack configuration values. Keys are "<namespace>:<name>";
// a bare name is looked up in the project namespace.
type Bag struct {
	project string
	values  map[string]string
}

func NewBag(project string, values map[string]string) *Bag {
	return &Bag{project: project, values: maps.Clone(values)}
}

func (b *Bag) Project() string {
	return b.project
}

func (b *Bag) fullKey(key string) string {
	if strings.Contains(key, ":") {
		return key
	}
	return b.project + ":" + key
}

// Get returns the value of key and whether it was set to a non-empty string.
func (b *Bag) Get(key string) (string, bool) {
	v, ok := b.values[b.fullKey(key)]
	return v, ok && v != ""
}

// GetOr returns the value of key or def when it is unset.
func (b *Bag) GetOr(key, def string) string {
	if v, ok := b.Get(key); ok {
		return v
	}
	return def
}

// Require returns the value of key or a *MissingKeyError.
func (b *Bag) Require(key string) (string, error) {
	v, ok := b.Get(key)
	if !ok {
		return "", &MissingKeyError{Key: b.fullKey(key)}
	}
	return v, nil
}

// Set stores a value, mainly for tests and CLI overrides.
func (b *Bag) Set(key, value string) {
	if b.values == nil {
		b.values = make(map[string]string)
	}
	b.values[b.fullKey(key)] = value
}

// Keys returns the fully qualified keys in sorted order.
func (b *Bag) Keys() []string {
	return slices.Sorted(maps.Keys(b.values))
}
