package protocol

import (
	"fmt"
	"strings"

	"github.com/sara-star-quant/httq-go/internal/constants"
	qerrors "github.com/sara-star-quant/httq-go/internal/errors"
	"github.com/sara-star-quant/httq-go/pkg/crypto"
)

// SupportedCipherSuites returns the cipher suites offered by default, in
// preference order. FIPS builds offer AES-256-GCM only.
func SupportedCipherSuites() []constants.CipherSuite {
	suites := make([]constants.CipherSuite, 0, 2)
	for _, cs := range []constants.CipherSuite{
		constants.CipherSuiteAES256GCM,
		constants.CipherSuiteChaCha20Poly1305,
	} {
		if crypto.Approved(cs) {
			suites = append(suites, cs)
		}
	}
	return suites
}

// PreferredCipherSuite returns the preferred cipher suite for new sessions.
// AES-256-GCM is preferred due to hardware acceleration on modern CPUs.
func PreferredCipherSuite() constants.CipherSuite {
	return constants.CipherSuiteAES256GCM
}

// SelectCipherSuite returns the first suite in the responder's preference
// list that the initiator also offered.
func SelectCipherSuite(offered, preferred []constants.CipherSuite) (constants.CipherSuite, bool) {
	for _, p := range preferred {
		for _, o := range offered {
			if p == o {
				return p, true
			}
		}
	}
	return 0, false
}

// ParseCipherSuite parses a suite name as printed by CipherSuite.String,
// case-insensitively. "aes" and "chacha20" are accepted as short forms.
func ParseCipherSuite(s string) (constants.CipherSuite, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, cs := range SupportedCipherSuites() {
		if name == strings.ToLower(cs.String()) {
			return cs, nil
		}
	}
	switch name {
	case "aes", "aes256gcm":
		return constants.CipherSuiteAES256GCM, nil
	case "chacha20", "chacha20poly1305":
		return constants.CipherSuiteChaCha20Poly1305, nil
	}
	return 0, qerrors.NewInputError("cipher_suite", fmt.Errorf("%w: %q", qerrors.ErrUnsupportedCipherSuite, s))
}
