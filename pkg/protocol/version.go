package protocol

import "strconv"

// Version is the protocol version carried in both hellos. Peers
// interoperate while their major numbers match.
type Version struct {
	Major uint8
	Minor uint8
}

// Current is the version this implementation speaks.
var Current = Version{Major: 1}

// Bytes returns the two-byte wire form.
func (v Version) Bytes() []byte {
	return []byte{v.Major, v.Minor}
}

// ParseVersion reads the two-byte wire form. Short input yields the zero
// Version, which no peer accepts.
func ParseVersion(b []byte) Version {
	if len(b) < 2 {
		return Version{}
	}
	return Version{Major: b[0], Minor: b[1]}
}

// IsCompatible reports whether v and other share a major version.
func (v Version) IsCompatible(other Version) bool {
	return v.Major == other.Major
}

func (v Version) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}
