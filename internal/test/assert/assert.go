// Package assert contains the test assertions used across the module.
package assert

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func diff(exp, got interface{}) string {
	return cmp.Diff(exp, got, cmpopts.EquateErrors(), cmpopts.EquateEmpty(), cmp.Exporter(func(r reflect.Type) bool {
		return true
	}))
}

// Equal asserts exp == got, printing a go-cmp diff otherwise.
func Equal(t testing.TB, name string, exp, got interface{}) {
	t.Helper()

	if d := diff(exp, got); d != "" {
		t.Fatalf("unexpected %v (-exp +got):\n%v", name, d)
	}
}

// Success asserts err == nil.
func Success(t testing.TB, err error) {
	t.Helper()

	if err != nil {
		t.Fatal(err)
	}
}

// Error asserts err != nil.
func Error(t testing.TB, err error) {
	t.Helper()

	if err == nil {
		t.Fatal("expected error")
	}
}

// Contains asserts the fmt.Sprint(v) contains sub.
func Contains(t testing.TB, v interface{}, sub string) {
	t.Helper()

	s := fmt.Sprint(v)
	if !strings.Contains(s, sub) {
		t.Fatalf("expected %q to contain %q", s, sub)
	}
}

// ErrorIs asserts errors.Is(got, exp)
func ErrorIs(t testing.TB, exp, got error) {
	t.Helper()

	if !errors.Is(got, exp) {
		t.Fatalf("expected %v but got %v", exp, got)
	}
}
