package relay

import (
	"errors"
	"testing"
)

func TestRulePolicy(t *testing.T) {
	cases := []struct {
		name   string
		policy RulePolicy
		req    SignRequest
		want   error
	}{
		{"noLimits", RulePolicy{}, SignRequest{Payments: []SignPayment{{Quarks: 1 << 40}}}, nil},
		{"underLimit", RulePolicy{MaxQuarks: 100}, SignRequest{Payments: []SignPayment{{Quarks: 100}}}, nil},
		{"overLimit", RulePolicy{MaxQuarks: 100}, SignRequest{Payments: []SignPayment{{Quarks: 101}}}, ErrOverLimit},
		{"allowedDest", RulePolicy{Destinations: []string{"dest1"}},
			SignRequest{Payments: []SignPayment{{Destination: "dest1"}}}, nil},
		{"blockedDest", RulePolicy{Destinations: []string{"dest1"}},
			SignRequest{Payments: []SignPayment{{Destination: "dest2"}}}, ErrNotAllowedDest},
		{"secondPaymentBlocked", RulePolicy{MaxQuarks: 100},
			SignRequest{Payments: []SignPayment{{Quarks: 10}, {Quarks: 200}}}, ErrOverLimit},
		{"empty", RulePolicy{MaxQuarks: 1}, SignRequest{}, nil},
	}

	for _, c := range cases {
		err := c.policy.Evaluate(c.req)
		if !errors.Is(err, c.want) {
			t.Errorf("[%s] got %v expected %v", c.name, err, c.want)
		}
	}
}

func TestApproveAll(t *testing.T) {
	// the always-approve policy exists for tests only; it must still approve anything thrown at it
	if err := (ApproveAll{}).Evaluate(SignRequest{Payments: []SignPayment{{Quarks: 1 << 50}}}); err != nil {
		t.Errorf("ApproveAll rejected:%v", err)
	}
}
