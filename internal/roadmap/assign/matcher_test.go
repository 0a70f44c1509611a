package assign

import (
	"context"
	"errors"
	"testing"

	"roadmapd/internal/roadmap"
)

type memberList struct {
	members []roadmap.Member
	err     error
}

func (d memberList) Members(context.Context, string) ([]roadmap.Member, error) {
	return d.members, d.err
}

func TestResolve(t *testing.T) {
	t.Parallel()

	dir := memberList{members: []roadmap.Member{
		{ProjectID: "p", UserID: 30, JobTitle: "SMM"},
		{ProjectID: "p", UserID: 10, JobTitle: "SMM"},
		{ProjectID: "p", UserID: 20, JobTitle: "PM"},
	}}

	tests := []struct {
		name   string
		role   roadmap.Role
		wantID int64
		wantOK bool
	}{
		{name: "lowest id wins", role: "SMM", wantID: 10, wantOK: true},
		{name: "single holder", role: "PM", wantID: 20, wantOK: true},
		{name: "no holder", role: "Designer", wantOK: false},
		{name: "exact match only", role: "smm", wantOK: false},
		{name: "zero role", role: "", wantOK: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			id, ok, err := New(dir).Resolve(context.Background(), "p", tc.role)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if ok != tc.wantOK || id != tc.wantID {
				t.Fatalf("Resolve(%q) = (%d, %v), want (%d, %v)", tc.role, id, ok, tc.wantID, tc.wantOK)
			}
		})
	}
}

func TestResolveDirectoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db gone")
	_, _, err := New(memberList{err: boom}).Resolve(context.Background(), "p", "PM")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped directory error", err)
	}
}
