package repositories

import (
	"errors"
	"fmt"
	"testing"
)

type fakeRepoError struct {
	notFound, conflict, unavailable bool
}

func (e fakeRepoError) Error() string { return "fake" }

func (e fakeRepoError) IsNotFound() bool { return e.notFound }

func (e fakeRepoError) IsConflict() bool { return e.conflict }

func (e fakeRepoError) IsUnavailable() bool { return e.unavailable }

func TestRepositoryErrorClassification(t *testing.T) {
	cases := []struct {
		name                            string
		err                             error
		notFound, conflict, unavailable bool
	}{
		{name: "nil"},
		{name: "plain", err: errors.New("boom")},
		{name: "not found", err: fakeRepoError{notFound: true}, notFound: true},
		{name: "wrapped conflict", err: fmt.Errorf("orders.update: %w", fakeRepoError{conflict: true}), conflict: true},
		{name: "unavailable", err: fakeRepoError{unavailable: true}, unavailable: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsNotFound(tc.err); got != tc.notFound {
				t.Fatalf("IsNotFound = %v, want %v", got, tc.notFound)
			}
			if got := IsConflict(tc.err); got != tc.conflict {
				t.Fatalf("IsConflict = %v, want %v", got, tc.conflict)
			}
			if got := IsUnavailable(tc.err); got != tc.unavailable {
				t.Fatalf("IsUnavailable = %v, want %v", got, tc.unavailable)
			}
		})
	}
}
