// Package tier enumerates the fixed development environment sizes.
package tier

import (
	"fmt"
	"strings"
)

// Tier is one of the fixed size categories.
type Tier string

const (
	Standard Tier = "standard"
	High     Tier = "high"
	Extra    Tier = "extra"
)

// Size is the (memory, vCPU) pair a tier maps to, plus the instance class
// that provides it.
type Size struct {
	MemoryGiB     int
	VCPU          int
	InstanceClass string
	Description   string
}

var sizes = map[Tier]Size{
	Standard: {MemoryGiB: 4, VCPU: 2, InstanceClass: "t3.medium", Description: "Standard Development Environment"},
	High:     {MemoryGiB: 8, VCPU: 2, InstanceClass: "t3.large", Description: "High Performance Development Environment"},
	Extra:    {MemoryGiB: 16, VCPU: 4, InstanceClass: "t3.xlarge", Description: "Extra Performance Development Environment"},
}

// All returns the tiers in menu order.
func All() []Tier {
	return []Tier{Standard, High, Extra}
}

// Names returns the tier names in menu order.
func Names() []string {
	out := make([]string, 0, len(sizes))
	for _, t := range All() {
		out = append(out, string(t))
	}
	return out
}

// Parse accepts a tier name case-insensitively.
func Parse(raw string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := sizes[t]; !ok {
		return "", fmt.Errorf("unknown environment type %q (expected %s)", raw, strings.Join(Names(), ", "))
	}
	return t, nil
}

// Size returns the fixed size of t. Unknown tiers return the zero Size.
func (t Tier) Size() Size {
	return sizes[t]
}

// Label renders the menu label, e.g. "8GB RAM, 2 vCPU - t3.large".
func (t Tier) Label() string {
	s := t.Size()
	return fmt.Sprintf("%dGB RAM, %d vCPU - %s", s.MemoryGiB, s.VCPU, s.InstanceClass)
}

func (t Tier) String() string { return string(t) }
