//go:build fips

package crypto

import "github.com/sara-star-quant/httq-go/internal/constants"

// FIPSMode reports whether the binary was built with the "fips" tag. In
// FIPS mode only AES-256-GCM may protect sessions and a failed self-test
// is fatal.
func FIPSMode() bool { return true }

// Approved reports whether suite may be used in this build.
func Approved(suite constants.CipherSuite) bool {
	return suite == constants.CipherSuiteAES256GCM
}
