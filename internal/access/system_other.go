//go:build !darwin

package access

// NewSystemNegotiator returns Unavailable outside macOS. There is no
// portable user-presence API, so operations run on the degraded path.
func NewSystemNegotiator() Negotiator {
	return Unavailable{}
}

// NewSystemPolicyBuilder returns Unavailable outside macOS.
func NewSystemPolicyBuilder() PolicyBuilder {
	return Unavailable{}
}
