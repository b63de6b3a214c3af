package recharge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/luxeride/business-wallet/internal/gateway"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	p := testPolicy()
	cases := map[int]time.Duration{
		0: time.Minute,
		1: time.Minute,
		2: 2 * time.Minute,
		3: 4 * time.Minute,
		4: 8 * time.Minute,
		5: 10 * time.Minute,
		9: 10 * time.Minute,
	}
	for retry, want := range cases {
		if got := p.Backoff(retry); got != want {
			t.Fatalf("Backoff(%d) = %s, want %s", retry, got, want)
		}
	}
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	p := testPolicy()
	p.Jitter = 0.5
	for i := 0; i < 100; i++ {
		got := p.Backoff(2)
		if got < 2*time.Minute || got > 3*time.Minute {
			t.Fatalf("Backoff(2) with jitter = %s, want within [2m, 3m]", got)
		}
	}
}

func TestPolicyNormalizedFillsDefaults(t *testing.T) {
	p := Policy{MaxRetries: -1, MaxDelay: time.Second, Multiplier: 0.5}.normalized()
	def := DefaultPolicy()
	if p.MaxRetries != 0 || p.BaseDelay != def.BaseDelay || p.MaxDelay != def.BaseDelay {
		t.Fatalf("normalized = %+v", p)
	}
	if p.Multiplier != def.Multiplier || p.BatchSize != def.BatchSize || p.StaleAfter != def.StaleAfter {
		t.Fatalf("normalized = %+v", p)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
		code      string
	}{
		{"decline", &gateway.Error{Kind: gateway.KindDeclined, Code: "insufficient_funds", Message: "declined"}, true, "insufficient_funds"},
		{"transient gateway", fmt.Errorf("create: %w", &gateway.Error{Kind: gateway.KindTransient, Message: "rate limited"}), true, "transient"},
		{"invalid request", &gateway.Error{Kind: gateway.KindInvalid, Code: "parameter_invalid_integer", Message: "bad amount"}, false, "parameter_invalid_integer"},
		{"missing card", fmt.Errorf("%w: no payment method on file", ErrPaymentMethodUnavailable), false, CodePaymentMethodUnavailable},
		{"inactive account", fmt.Errorf("%w: account 7 is inactive", ErrAccountNotFound), false, CodeAccountUnavailable},
		{"deadline", fmt.Errorf("charge: %w", context.DeadlineExceeded), true, CodeTimeout},
		{"network", errors.New("dial tcp 10.0.0.1:443: connect: connection refused"), true, CodeTransient},
		{"unexpected eof", fmt.Errorf("read response: %w", io.ErrUnexpectedEOF), true, CodeTransient},
		{"eof", io.EOF, true, CodeTransient},
		{"eof in a word", errors.New("the amount thereof is invalid"), false, CodeGateway},
		{"other", errors.New("something odd"), false, CodeGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			retryable, code, message := Classify(tc.err)
			if retryable != tc.retryable || code != tc.code {
				t.Fatalf("Classify = %v/%q, want %v/%q", retryable, code, tc.retryable, tc.code)
			}
			if message == "" {
				t.Fatalf("empty message")
			}
		})
	}
	if retryable, code, _ := Classify(nil); retryable || code != "" {
		t.Fatalf("Classify(nil) = %v/%q", retryable, code)
	}
}
