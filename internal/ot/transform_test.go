package ot

import (
	"testing"
	"time"

	"collabdraft-server/internal/domain"
)

func changeAt(kind domain.ChangeKind, pos int, content string, length int, at time.Time) *domain.DocumentChange {
	return &domain.DocumentChange{
		Kind:      kind,
		Position:  pos,
		Content:   content,
		Length:    length,
		CreatedAt: at,
	}
}

// Two participants edit "hello world": A inserts "XY" at 5, B deletes the
// space at 5 without having seen A's edit. After transforming against A's
// insert, B's delete lands at 7 and the result is "helloXYworld".
func TestTransformConcurrentInsertThenDelete(t *testing.T) {
	base := time.Now()
	content := "hello world"

	insertA := changeAt(domain.ChangeInsert, 5, "XY", 0, base)
	content = Apply(content, insertA)
	if content != "helloXY world" {
		t.Fatalf("after A's insert: got %q, want %q", content, "helloXY world")
	}

	deleteB := changeAt(domain.ChangeDelete, 5, "", 1, base.Add(10*time.Millisecond))
	transformed := Transform(deleteB, []*domain.DocumentChange{insertA})

	if transformed.Position != 7 {
		t.Errorf("transformed position = %d, want 7", transformed.Position)
	}
	if deleteB.Position != 5 {
		t.Errorf("Transform mutated its input: position = %d", deleteB.Position)
	}

	content = Apply(content, transformed)
	if content != "helloXYworld" {
		t.Errorf("final content = %q, want %q", content, "helloXYworld")
	}
}

func TestTransformSkipsNonPriorChanges(t *testing.T) {
	base := time.Now()

	incoming := changeAt(domain.ChangeInsert, 4, "x", 0, base)
	later := changeAt(domain.ChangeInsert, 0, "aaaa", 0, base.Add(time.Second))
	simultaneous := changeAt(domain.ChangeInsert, 0, "bb", 0, base)

	got := Transform(incoming, []*domain.DocumentChange{later, simultaneous})
	if got.Position != 4 {
		t.Errorf("position = %d, want 4 (later and simultaneous changes must not shift)", got.Position)
	}
}

func TestTransformDeleteShiftsLeft(t *testing.T) {
	base := time.Now()

	priorDelete := changeAt(domain.ChangeDelete, 2, "", 3, base)
	incoming := changeAt(domain.ChangeInsert, 10, "x", 0, base.Add(time.Millisecond))

	got := Transform(incoming, []*domain.DocumentChange{priorDelete})
	if got.Position != 7 {
		t.Errorf("position = %d, want 7", got.Position)
	}
}

func TestTransformInsertAtSamePositionShifts(t *testing.T) {
	base := time.Now()

	priorInsert := changeAt(domain.ChangeInsert, 3, "abc", 0, base)
	incoming := changeAt(domain.ChangeInsert, 3, "x", 0, base.Add(time.Millisecond))

	got := Transform(incoming, []*domain.DocumentChange{priorInsert})
	if got.Position != 6 {
		t.Errorf("position = %d, want 6", got.Position)
	}
}

func TestTransformDeleteAtOrAfterPositionDoesNotShift(t *testing.T) {
	base := time.Now()

	priorDelete := changeAt(domain.ChangeDelete, 5, "", 2, base)
	incoming := changeAt(domain.ChangeInsert, 5, "x", 0, base.Add(time.Millisecond))

	got := Transform(incoming, []*domain.DocumentChange{priorDelete})
	if got.Position != 5 {
		t.Errorf("position = %d, want 5 (delete at the same position must not shift)", got.Position)
	}
}

func TestTransformAppliesChangesInTimestampOrder(t *testing.T) {
	base := time.Now()

	// Supplied out of order; the engine must sort by timestamp first.
	second := changeAt(domain.ChangeInsert, 0, "yy", 0, base.Add(time.Millisecond))
	first := changeAt(domain.ChangeDelete, 0, "", 2, base)
	incoming := changeAt(domain.ChangeInsert, 6, "x", 0, base.Add(2*time.Millisecond))

	got := Transform(incoming, []*domain.DocumentChange{second, first})
	if got.Position != 6 {
		t.Errorf("position = %d, want 6", got.Position)
	}
}

func TestTransformNeverGoesNegative(t *testing.T) {
	base := time.Now()

	priorDelete := changeAt(domain.ChangeDelete, 0, "", 10, base)
	incoming := changeAt(domain.ChangeInsert, 3, "x", 0, base.Add(time.Millisecond))

	got := Transform(incoming, []*domain.DocumentChange{priorDelete})
	if got.Position != 0 {
		t.Errorf("position = %d, want 0", got.Position)
	}
}

func TestShiftPosition(t *testing.T) {
	tests := []struct {
		name    string
		pos     int
		applied *domain.DocumentChange
		want    int
	}{
		{"insert before shifts right", 5, &domain.DocumentChange{Kind: domain.ChangeInsert, Position: 2, Content: "ab"}, 7},
		{"insert after leaves alone", 5, &domain.DocumentChange{Kind: domain.ChangeInsert, Position: 9, Content: "ab"}, 5},
		{"delete before shifts left", 5, &domain.DocumentChange{Kind: domain.ChangeDelete, Position: 1, Length: 2}, 3},
		{"delete after leaves alone", 5, &domain.DocumentChange{Kind: domain.ChangeDelete, Position: 5, Length: 2}, 5},
		{"floors at zero", 1, &domain.DocumentChange{Kind: domain.ChangeDelete, Position: 0, Length: 5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShiftPosition(tt.pos, tt.applied); got != tt.want {
				t.Errorf("ShiftPosition() = %d, want %d", got, tt.want)
			}
		})
	}
}
