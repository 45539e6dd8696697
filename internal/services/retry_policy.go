package services

import (
	"os"
	"strconv"
	"time"

	"chama-wallet-service/internal/models"
)

// RetryAction is the policy verdict for an unresolved STK request.
type RetryAction string

const (
	ActionWait   RetryAction = "wait"
	ActionRetry  RetryAction = "retry"
	ActionGiveUp RetryAction = "give_up"
)

// RetryDecision carries the verdict plus the bookkeeping the caller
// applies if it acts on it.
type RetryDecision struct {
	Action          RetryAction
	WaitMinutes     int
	NewAttemptCount int
}

// PolicyConfig holds the timing knobs for both reconciliation flows.
// Deposit and chama windows differ by design and stay independently
// configurable.
type PolicyConfig struct {
	// Single-deposit flow.
	DepositRecheckAfter time.Duration // re-run the direct status check past this age
	DepositExpiry       time.Duration // hard ceiling, then the deposit fails as expired

	// Chama STK flow.
	StkLiveWindow  time.Duration // push assumed still live on the user's device
	StkRetryGap    time.Duration // minimum spacing between re-dispatches
	StkMaxAttempts int
}

func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		DepositRecheckAfter: 30 * time.Minute,
		DepositExpiry:       2 * time.Hour,
		StkLiveWindow:       2 * time.Minute,
		StkRetryGap:         10 * time.Minute,
		StkMaxAttempts:      3,
	}
}

// PolicyFromEnv reads overrides from the environment, falling back to
// the defaults for anything unset.
func PolicyFromEnv() PolicyConfig {
	cfg := DefaultPolicyConfig()
	if v := envMinutes("RECON_DEPOSIT_RECHECK_MINUTES"); v > 0 {
		cfg.DepositRecheckAfter = v
	}
	if v := envMinutes("RECON_DEPOSIT_EXPIRY_MINUTES"); v > 0 {
		cfg.DepositExpiry = v
	}
	if v := envMinutes("STK_LIVE_WINDOW_MINUTES"); v > 0 {
		cfg.StkLiveWindow = v
	}
	if v := envMinutes("STK_RETRY_GAP_MINUTES"); v > 0 {
		cfg.StkRetryGap = v
	}
	if v, err := strconv.Atoi(os.Getenv("STK_MAX_ATTEMPTS")); err == nil && v > 0 {
		cfg.StkMaxAttempts = v
	}
	return cfg
}

func envMinutes(key string) time.Duration {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Minute
}

// Decide evaluates one unresolved STK request against the retry
// policy. Pure: it reads only the record and the clock, so every
// reconciliation pass re-evaluates each record independently.
func (c PolicyConfig) Decide(req models.StkRequest, now time.Time) RetryDecision {
	elapsed := now.Sub(req.LastAttemptAt)

	// A freshly sent push is assumed still live on the user's device.
	if req.Status == models.StatusSent && elapsed < c.StkLiveWindow {
		return RetryDecision{Action: ActionWait, WaitMinutes: int((c.StkLiveWindow - elapsed).Minutes()) + 1}
	}

	if req.AttemptCount >= c.StkMaxAttempts {
		return RetryDecision{Action: ActionGiveUp}
	}

	if elapsed >= c.StkRetryGap {
		return RetryDecision{Action: ActionRetry, NewAttemptCount: req.AttemptCount + 1}
	}

	return RetryDecision{Action: ActionWait, WaitMinutes: int((c.StkRetryGap - elapsed).Minutes()) + 1}
}
