// Package version reports the release of httq compiled into a binary.
package version

import (
	"runtime/debug"
	"sync"
)

// Release is the version tagged in this source tree. Binaries built from a
// tagged module report the module version instead.
const Release = "v0.1.0"

const modulePath = "github.com/sara-star-quant/httq-go"

var resolved = sync.OnceValue(func() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Release
	}
	if info.Main.Path == modulePath && tagged(info.Main.Version) {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if dep.Path == modulePath && tagged(dep.Version) {
			return dep.Version
		}
	}
	return Release
})

func tagged(v string) bool {
	return v != "" && v != "(devel)"
}

// String returns the version, such as "v0.1.0".
func String() string {
	return resolved()
}

// Full names the project along with the version.
func Full() string {
	return "httq " + String()
}

// UserAgent is sent on classical fallback requests.
func UserAgent() string {
	return "httq-go/" + String()
}
