package domain

import "fmt"

// ServiceMapping binds a service name to an opaque connection spec.
//
// Name is the lookup key and is unique by policy. Two mappings conflict when
// they share a Name but differ in Spec.
type ServiceMapping struct {
	Name string `json:"name" yaml:"name"`
	Spec string `json:"spec" yaml:"spec"`
}

// ConflictsWith reports whether m and other claim the same name for different specs.
func (m ServiceMapping) ConflictsWith(other ServiceMapping) bool {
	return m.Name == other.Name && m.Spec != other.Spec
}

// Validate rejects mappings with an empty name or spec.
func (m ServiceMapping) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("mapping name cannot be empty")
	}
	if m.Spec == "" {
		return fmt.Errorf("mapping spec cannot be empty for %q", m.Name)
	}
	return nil
}

func (m ServiceMapping) String() string {
	return m.Name + "->" + m.Spec
}

// Origin tells whether this node introduced a mapping or learned it from a peer.
type Origin int

const (
	// OriginLearned marks mappings announced by peer brokers.
	OriginLearned Origin = iota
	// OriginLocal marks mappings registered by this node's own clients.
	OriginLocal
)

func (o Origin) String() string {
	if o == OriginLocal {
		return "local"
	}
	return "learned"
}

// MarshalText lets Origin travel as "local" / "learned" in JSON.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(b []byte) error {
	switch string(b) {
	case "local":
		*o = OriginLocal
	case "learned":
		*o = OriginLearned
	default:
		return fmt.Errorf("unknown origin %q", string(b))
	}
	return nil
}
