package relay

import (
	"errors"
	"fmt"

	"github.com/tarancss/kinrelay/lib/util"
)

// Errors returned by signing policies.
var (
	ErrOverLimit      = errors.New("payment exceeds the per-payment quark limit")
	ErrNotAllowedDest = errors.New("payment destination is not allowlisted")
)

// SignPolicy decides whether the relay signs a transaction presented on the signing webhook. A nil error approves
// the request; any error rejects it and is logged as the audit reason.
type SignPolicy interface {
	Evaluate(req SignRequest) error
}

// ApproveAll approves every signing request. It exists for test environments only and must never be the
// production policy.
type ApproveAll struct{}

// Evaluate approves unconditionally.
func (ApproveAll) Evaluate(SignRequest) error { return nil }

// RulePolicy approves a signing request when every payment stays within the per-payment quark limit and, if an
// allowlist is configured, pays to an allowlisted destination.
type RulePolicy struct {
	MaxQuarks    int64    // per-payment limit; 0 means no limit
	Destinations []string // base58 allowlist; empty means any destination
}

// Evaluate applies the rules to every payment in the request.
func (p RulePolicy) Evaluate(req SignRequest) error {
	for _, payment := range req.Payments {
		if p.MaxQuarks > 0 && payment.Quarks > p.MaxQuarks {
			return fmt.Errorf("%w: %d > %d", ErrOverLimit, payment.Quarks, p.MaxQuarks)
		}

		if len(p.Destinations) > 0 && !util.In(p.Destinations, payment.Destination) {
			return fmt.Errorf("%w: %s", ErrNotAllowedDest, payment.Destination)
		}
	}

	return nil
}
