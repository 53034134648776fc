package x402

import "fmt"

// SelectRequirement returns the first accepted option matching scheme and network.
// No match is terminal: the caller must report it, not retry.
func SelectRequirement(req PaymentRequest, scheme, network string) (PaymentRequirement, error) {
	for _, r := range req.Accepts {
		if r.Scheme == scheme && r.Network == network {
			return r, nil
		}
	}

	offered := make([]string, 0, len(req.Accepts))
	for _, r := range req.Accepts {
		offered = append(offered, r.Scheme+"@"+r.Network)
	}
	return PaymentRequirement{}, NewPaymentError(
		ErrCodeUnsupportedScheme,
		fmt.Sprintf("no supported payment scheme found (need %s on %s)", scheme, network),
		map[string]interface{}{"offered": offered},
	)
}
