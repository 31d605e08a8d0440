package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := NotFound("service.GetProject", "admin", "p1")
	if got := err.Error(); got == "" {
		t.Fatal("empty error message")
	}
	if !IsNotFound(err) {
		t.Error("IsNotFound() = false")
	}
	if IsValidation(err) {
		t.Error("IsValidation() = true for a not-found error")
	}
}

func TestPredicatesMatchWrappedErrors(t *testing.T) {
	base := DuplicateName("service.CreateProject", "admin", "acme")
	wrapped := fmt.Errorf("create: %w", base)

	if !IsDuplicateName(wrapped) {
		t.Error("IsDuplicateName() = false through fmt.Errorf wrapping")
	}
	if IsDuplicateName(errors.New("plain")) {
		t.Error("IsDuplicateName() = true for a plain error")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := Wrap(CodeConnection, "registry.open", "acme", cause)

	if !IsConnection(err) {
		t.Error("IsConnection() = false")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is() lost the cause")
	}
}

func TestIsMissingSchema(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("no such table: documents"), true},
		{errors.New("no such column: version"), true},
		{fmt.Errorf("query: %w", errors.New("no such table: users")), true},
		{errors.New("UNIQUE constraint failed: projects.name"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsMissingSchema(tc.err); got != tc.want {
			t.Errorf("IsMissingSchema(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSchemaDrift(t *testing.T) {
	err := SchemaDrift("migrate.Run", "acme", errors.New("step 2 (audit): boom"))
	if !IsSchemaDrift(err) {
		t.Error("IsSchemaDrift() = false")
	}
	if IsConnection(err) {
		t.Error("IsConnection() = true for a schema drift error")
	}
}
