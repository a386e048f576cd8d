package domain

// AbuseStatus is the decision returned by the login abuse gate for a single
// attempt. Allowed=false means the attempt must be rejected outright;
// RequiresCaptcha means it may proceed only with a valid captcha response.
type AbuseStatus struct {
	Allowed           bool
	RequiresCaptcha   bool
	BackoffSeconds    int
	AttemptsRemaining int
	Message           string
}

// AllowedStatus is the permissive decision used when no abuse signal exists,
// and when the abuse store is unreachable (availability wins over strictness
// for this gate).
func AllowedStatus(attemptsRemaining int) AbuseStatus {
	return AbuseStatus{Allowed: true, AttemptsRemaining: attemptsRemaining}
}
