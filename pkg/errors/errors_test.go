package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestWrap_preservesCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CategoryConnectivity, cause, "fetch remote item")

	if !stdErrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be discoverable")
	}
	if err.Category() != CategoryConnectivity {
		t.Fatalf("category = %s", err.Category())
	}
}

func TestAs_findsTypedErrorThroughWrapping(t *testing.T) {
	inner := New(CategoryStorage, "disk full")
	outer := fmt.Errorf("import item: %w", inner)

	typed := As(outer)
	if typed == nil {
		t.Fatal("expected typed error")
	}
	if typed.Category() != CategoryStorage {
		t.Fatalf("category = %s", typed.Category())
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		category Category
		want     bool
	}{
		{CategoryConnectivity, true},
		{CategoryStorage, true},
		{CategoryNotFound, false},
		{CategoryPermission, false},
		{CategoryValidation, false},
		{CategoryIntegrity, false},
	}
	for _, tc := range cases {
		if got := IsRetryable(New(tc.category, "x")); got != tc.want {
			t.Fatalf("IsRetryable(%s) = %v, want %v", tc.category, got, tc.want)
		}
	}
}

func TestCategoryOf_untypedErrorIsInternal(t *testing.T) {
	if got := CategoryOf(stdErrors.New("boom")); got != CategoryInternal {
		t.Fatalf("CategoryOf = %s", got)
	}
}

func TestMetadataFor_unknownCategoryFallsBack(t *testing.T) {
	meta := MetadataFor(Category("bogus"))
	if meta.Severity != SeverityCritical {
		t.Fatalf("expected internal fallback, got %+v", meta)
	}
}
