package test

import (
	"errors"
	"reflect"
	"testing"
)

func AssertEqual(t *testing.T, expected, actual any) bool {
	t.Helper()

	if !reflect.DeepEqual(expected, actual) {
		t.Errorf(""+
			"Not equal: \n"+
			"Expected: %#v\n"+
			"Actual: %#v", expected, actual)
		return false
	}

	return true
}

func AssertTrue(t *testing.T, value bool, message string) bool {
	t.Helper()

	if !value {
		t.Errorf("Expected true: %s", message)
		return false
	}

	return true
}

func AssertNoError(t *testing.T, err error) bool {
	t.Helper()

	if err != nil {
		t.Errorf("Unexpected error: %v", err)
		return false
	}

	return true
}

// AssertErrorIs fails unless errors.Is(err, target).
func AssertErrorIs(t *testing.T, err, target error) bool {
	t.Helper()

	if !errors.Is(err, target) {
		t.Errorf(""+
			"Error mismatch: \n"+
			"Expected: %v\n"+
			"Actual: %v", target, err)
		return false
	}

	return true
}
