package utils

import (
	"errors"
	"runtime"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func getParentInfo() (string, int) {
	parent, _, _, _ := runtime.Caller(2)
	info := runtime.FuncForPC(parent)
	file, line := info.FileLine(parent)
	return file, line
}

// Test helper
func Assert(t *testing.T, predicate bool, msg string) {
	if !predicate {
		file, line := getParentInfo()
		t.Errorf(msg+" in %s:%d", file, line)
	}
}

func AssertEqual[T comparable](t *testing.T, a T, b T) {
	if a != b {
		file, line := getParentInfo()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

func AssertNotEqual[T comparable](t *testing.T, a T, b T) {
	if a == b {
		file, line := getParentInfo()
		t.Errorf("Expected %v != %v (%T) in %s:%d", a, b, a, file, line)
	}
}

// Assert that error is nil
func AssertNoError(t *testing.T, err error) {
	if err != nil {
		file, line := getParentInfo()
		t.Errorf("Expected no error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that an error is not nil
func AssertError(t *testing.T, err error) {
	if err == nil {
		file, line := getParentInfo()
		t.Errorf("Expected error, got '%v' in %s:%d", err, file, line)
	}
}

// Assert that err wraps target
func AssertErrorIs(t *testing.T, err error, target error) {
	if !errors.Is(err, target) {
		file, line := getParentInfo()
		t.Errorf("Expected error wrapping '%v', got '%v' in %s:%d", target, err, file, line)
	}
}

// Compare two values using a custom comparator function.
func AssertEqualWithComparator[T any](t *testing.T, a T, b T, comparator func(T, T) bool) {
	if !comparator(a, b) {
		file, line := getParentInfo()
		t.Errorf("Expected %v == %v (%T) in %s:%d", a, b, a, file, line)
	}
}

// Structural comparison for values that are not comparable with ==, such as
// nested slices of interfaces. Nil and empty slices are treated as equal.
func AssertDeepEqual[T any](t *testing.T, a T, b T) {
	if diff := cmp.Diff(a, b, cmpopts.EquateEmpty()); diff != "" {
		file, line := getParentInfo()
		t.Errorf("Mismatch (-want +got) in %s:%d:\n%s", file, line, diff)
	}
}

func CompareArrays[T comparable](a []T, b []T) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func CompareMaps[T comparable, V comparable](a map[T]V, b map[T]V) bool {
	if len(a) != len(b) {
		return false
	}
	// NOTE: the range on a map is in random order
	for k, va := range a {
		vb, ok := b[k]
		if !ok || va != vb {
			return false
		}
	}
	// same length and every key of a is in b, so the key sets match
	return true
}

// Utility functions for comparing arrays. Equivalent to AssertEqualWithComparator
// where the comparator is CompareArrays.
func AssertEqualArrays[T comparable](t *testing.T, a []T, b []T) {
	AssertEqualWithComparator(t, a, b, CompareArrays)
}

// Utility functions for comparing maps. Equivalent to AssertEqualWithComparator
// where the comparator is CompareMaps.
func AssertEqualMaps[T comparable, V comparable](t *testing.T, a map[T]V, b map[T]V) {
	AssertEqualWithComparator(t, a, b, CompareMaps)
}
