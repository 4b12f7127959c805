package protocol

import "fmt"

// Version is a negotiated protocol version.
type Version struct {
	Major int
	Minor int
}

// Current is the newest version this build speaks.
var Current = Version{Major: MajorVersion, Minor: MinorVersion}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// AtLeast reports whether v is major 1 and its minor is >= minor.
func (v Version) AtLeast(minor int) bool {
	return v.Major == MajorVersion && v.Minor >= minor
}

// Negotiate picks the highest known minor version that does not exceed the
// peer's declared minor. ok is false when the majors differ or the peer
// declares a negative minor.
func Negotiate(peerMajor, peerMinor int) (Version, bool) {
	if peerMajor != MajorVersion || peerMinor < 0 {
		return Version{}, false
	}
	return Version{Major: MajorVersion, Minor: min(peerMinor, MinorVersion)}, true
}
