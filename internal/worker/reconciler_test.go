package worker

import (
	"testing"

	"github.com/google/uuid"
)

func TestDrifted(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	cases := []struct {
		name   string
		roster []uuid.UUID
		queue  []uuid.UUID
		want   bool
	}{
		{"identical order", []uuid.UUID{a, b, c}, []uuid.UUID{a, b, c}, false},
		{"rotated queue is fine", []uuid.UUID{a, b, c}, []uuid.UUID{c, a, b}, false},
		{"duplicate entry", []uuid.UUID{a, b}, []uuid.UUID{a, a}, true},
		{"stale member", []uuid.UUID{a, b}, []uuid.UUID{a, c}, true},
		{"missing member", []uuid.UUID{a, b, c}, []uuid.UUID{a, b}, true},
		{"extra entry", []uuid.UUID{a, b}, []uuid.UUID{a, b, b}, true},
		{"both empty", nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := drifted(tc.roster, tc.queue); got != tc.want {
				t.Fatalf("drifted(%v, %v) = %v, want %v", tc.roster, tc.queue, got, tc.want)
			}
		})
	}
}
