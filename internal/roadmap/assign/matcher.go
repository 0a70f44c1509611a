// Package assign resolves required roles against the project member
// directory. Matching is exact on job title; when several members share the
// role the lowest user id wins, so repeated activations pick the same owner.
package assign

import (
	"context"
	"fmt"

	"roadmapd/internal/roadmap"
)

// Directory is the read side of the membership store the matcher needs.
type Directory interface {
	Members(ctx context.Context, projectID string) ([]roadmap.Member, error)
}

// Matcher resolves roles to members within one project.
type Matcher struct {
	dir Directory
}

func New(dir Directory) *Matcher {
	return &Matcher{dir: dir}
}

// Resolve returns the user id owning the role, or ok=false when no member
// holds it. A missing role is a normal outcome, not an error: the task lands
// in the unassigned pool.
func (m *Matcher) Resolve(ctx context.Context, projectID string, role roadmap.Role) (int64, bool, error) {
	if role.IsZero() {
		return 0, false, nil
	}
	members, err := m.dir.Members(ctx, projectID)
	if err != nil {
		return 0, false, fmt.Errorf("list members: %w", err)
	}

	var (
		best  int64
		found bool
	)
	for _, mem := range members {
		if mem.JobTitle != role {
			continue
		}
		if !found || mem.UserID < best {
			best = mem.UserID
			found = true
		}
	}
	return best, found, nil
}
