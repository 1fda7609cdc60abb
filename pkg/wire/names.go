// Package wire implements the Constellation message codec: the tagged-union
// Value type, the Dictionary/List containers, and the binary framing for the
// CHIRP, CSCP, CHP and CMDP protocols.
package wire

import (
	"crypto/md5"
	"fmt"
	"regexp"
)

var nameRE = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateName reports whether n is a legal type or instance name component.
func ValidateName(n string) error {
	if n == "" {
		return fmt.Errorf("name must not be empty")
	}
	if !nameRE.MatchString(n) {
		return fmt.Errorf("name %q contains characters outside [A-Za-z0-9_]", n)
	}
	return nil
}

// CanonicalName returns "type.name" for a satellite, after validating both
// components.
func CanonicalName(typ, name string) (string, error) {
	if err := ValidateName(typ); err != nil {
		return "", fmt.Errorf("satellite type: %w", err)
	}
	if err := ValidateName(name); err != nil {
		return "", fmt.Errorf("satellite name: %w", err)
	}
	return typ + "." + name, nil
}

// GroupID is the 16-byte MD5 hash of a group's string name, used to isolate
// CHIRP broadcasts between unrelated groups on the same network.
type GroupID [16]byte

// HostID is the 16-byte MD5 hash of a satellite's canonical name, used to
// identify it in CHIRP frames and as the discovered-service key component.
type HostID [16]byte

// NewGroupID hashes a group name into a GroupID.
func NewGroupID(group string) GroupID {
	return GroupID(md5.Sum([]byte(group)))
}

// NewHostID hashes a canonical satellite name into a HostID.
func NewHostID(canonicalName string) HostID {
	return HostID(md5.Sum([]byte(canonicalName)))
}

func (g GroupID) String() string { return fmt.Sprintf("%x", g[:]) }
func (h HostID) String() string  { return fmt.Sprintf("%x", h[:]) }
