package worker

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseIDs(t *testing.T) {
	showtime := uuid.New()
	u1, u2 := uuid.New(), uuid.New()

	gotShowtime, gotUsers, err := parseIDs(showtime.String(), []string{u1.String(), u2.String()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotShowtime != showtime {
		t.Errorf("expected showtime %s, got %s", showtime, gotShowtime)
	}
	if len(gotUsers) != 2 || gotUsers[0] != u1 || gotUsers[1] != u2 {
		t.Errorf("unexpected users: %v", gotUsers)
	}
}

func TestParseIDs_BadIdentifiers(t *testing.T) {
	if _, _, err := parseIDs("not-a-uuid", nil); !errors.Is(err, ErrBadIdentifier) {
		t.Errorf("expected ErrBadIdentifier for showtime, got %v", err)
	}

	showtime := uuid.New().String()
	if _, _, err := parseIDs(showtime, []string{"nope"}); !errors.Is(err, ErrBadIdentifier) {
		t.Errorf("expected ErrBadIdentifier for user, got %v", err)
	}
}
