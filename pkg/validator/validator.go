package validator

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

func All(errors ...error) error {
	for _, err := range errors {
		if err != nil {
			return err
		}
	}
	return nil
}

type Validatable interface {
	Validate() error
}

func Each[T Validatable](items []T) error {
	for i, item := range items {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("item %d: %w", i, err)
		}
	}
	return nil
}

func Map[T any](items []T, f func(T, string) error, description string) error {
	for i, item := range items {
		if err := f(item, fmt.Sprintf("%s[%d]", description, i)); err != nil {
			return err
		}
	}
	return nil
}

// MapDict applies f to every entry in key order, so the reported error does
// not depend on map iteration order.
func MapDict[T any](items map[string]T, f func(string, T) error, description string) error {
	keys := make([]string, 0, len(items))
	for key := range items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := f(key, items[key]); err != nil {
			return fmt.Errorf("%s: %w", description, err)
		}
	}
	return nil
}

func NotEmpty(field, description string) error {
	if field == "" {
		return fmt.Errorf("%s must not be empty", description)
	}
	return nil
}

func NoDuplicates[T comparable](slice []T, description string) error {
	seen := make(map[T]struct{})
	for _, v := range slice {
		if _, ok := seen[v]; ok {
			return fmt.Errorf("%s contains duplicate value: %v", description, v)
		}
		seen[v] = struct{}{}
	}
	return nil
}

func MatchesAllowed[T comparable](field T, allowed []T, description string) error {
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("%s must be one of %v, got %v", description, allowed, field)
	}
	return nil
}

// HasNoTags rejects fields containing template delimiters.
func HasNoTags(field string, description string) error {
	if field != "" && (strings.Contains(field, "{{") || strings.Contains(field, "{%")) {
		return fmt.Errorf("%s must not contain template tags", description)
	}
	return nil
}

// ExactlyOne requires exactly one of the named fields to be set. set maps
// each field name to whether it is present.
func ExactlyOne(set map[string]bool, description string) error {
	var present []string
	names := make([]string, 0, len(set))
	for name, ok := range set {
		names = append(names, name)
		if ok {
			present = append(present, name)
		}
	}
	sort.Strings(names)
	sort.Strings(present)
	switch len(present) {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("%s requires one of %s", description, strings.Join(names, ", "))
	default:
		return fmt.Errorf("%s sets %s; only one is allowed", description, strings.Join(present, " and "))
	}
}
