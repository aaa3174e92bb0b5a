package models

import (
	"fmt"
	"strings"
)

// IDSeparator joins the group and member parts of a composite EncounterID
// in its string form, e.g. "crypt/skeleton".
const IDSeparator = "/"

// EncounterID identifies one simulated fight.
// A plain ID (Group == "") names a standalone enemy. A composite ID names the
// same enemy fought as a member of an instance, so one enemy can carry
// different statistics inside different instances.
// EncounterID is comparable and can be used directly as a map key.
type EncounterID struct {
	Group  string `json:"group,omitempty" yaml:"group,omitempty"`
	Member string `json:"member" yaml:"member"`
}

// Plain returns a standalone EncounterID.
func Plain(member string) EncounterID {
	return EncounterID{Member: member}
}

// Composite returns an EncounterID scoped to a group.
func Composite(group, member string) EncounterID {
	return EncounterID{Group: group, Member: member}
}

// IsComposite reports whether the ID is scoped to a group.
func (id EncounterID) IsComposite() bool {
	return id.Group != ""
}

// IsZero reports whether the ID is unset.
func (id EncounterID) IsZero() bool {
	return id.Group == "" && id.Member == ""
}

// String implements fmt.Stringer.
func (id EncounterID) String() string {
	if id.Group == "" {
		return id.Member
	}
	return id.Group + IDSeparator + id.Member
}

// MarshalText lets EncounterID act as a JSON object key.
func (id EncounterID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the form produced by MarshalText.
func (id *EncounterID) UnmarshalText(b []byte) error {
	parsed, err := ParseEncounterID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseEncounterID parses "member" or "group/member".
func ParseEncounterID(s string) (EncounterID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return EncounterID{}, fmt.Errorf("empty encounter id")
	}
	group, member, found := strings.Cut(s, IDSeparator)
	if !found {
		return Plain(s), nil
	}
	if group == "" || member == "" || strings.Contains(member, IDSeparator) {
		return EncounterID{}, fmt.Errorf("malformed encounter id %q", s)
	}
	return Composite(group, member), nil
}

// CompareIDs orders IDs by group, then member. Plain IDs sort before
// composite ones.
func CompareIDs(a, b EncounterID) int {
	if c := strings.Compare(a.Group, b.Group); c != 0 {
		return c
	}
	return strings.Compare(a.Member, b.Member)
}

// GroupKind distinguishes the two kinds of encounter groups.
type GroupKind string

const (
	// KindInstance is an ordered chain of encounters cleared sequentially.
	KindInstance GroupKind = "instance"
	// KindTaskSet is an unordered pool of encounters drawn one per cycle.
	KindTaskSet GroupKind = "taskset"
)

// Valid reports whether k is a known kind.
func (k GroupKind) Valid() bool {
	return k == KindInstance || k == KindTaskSet
}

// GroupSpec is the membership of one group for a single request.
// Instance members are ordered; task-set members carry no order guarantee.
type GroupSpec struct {
	ID      string        `json:"id"`
	Kind    GroupKind     `json:"kind"`
	Members []EncounterID `json:"members"`
}

// Contains reports whether id is a member of the group.
func (g GroupSpec) Contains(id EncounterID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}
