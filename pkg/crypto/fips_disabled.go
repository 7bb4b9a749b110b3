//go:build !fips

package crypto

import "github.com/sara-star-quant/httq-go/internal/constants"

// FIPSMode reports whether the binary was built with the "fips" tag.
func FIPSMode() bool { return false }

// Approved reports whether suite may be used in this build.
func Approved(suite constants.CipherSuite) bool {
	return suite.IsSupported()
}
