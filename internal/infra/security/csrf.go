package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// csrfBucketLayout slices time into UTC day buckets. A token is accepted for
// the bucket it was minted in and the one before it, so validity ranges from
// 24h to 48h depending on mint time. Widening the window is a code change on
// purpose.
const csrfBucketLayout = "2006-01-02"

// minValidateDuration pads ValidateToken so accept and reject take the same
// observable time.
const minValidateDuration = 2 * time.Millisecond

// CSRFManager derives stateless double-submit tokens from the session
// identifier, a UTC day bucket, and a User-Agent fingerprint. Nothing is
// stored server-side.
type CSRFManager struct {
	secret []byte
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewCSRFManager builds a CSRFManager over the configured secret.
func NewCSRFManager(secret string) (*CSRFManager, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("csrf: secret is required")
	}
	return &CSRFManager{
		secret: []byte(secret),
		now:    time.Now,
		sleep:  time.Sleep,
	}, nil
}

// WithClock allows injection of a custom clock (primarily for testing).
func (m *CSRFManager) WithClock(now func() time.Time) *CSRFManager {
	if now != nil {
		m.now = now
	}
	return m
}

// GenerateToken mints a token bound to the session, the current UTC day
// bucket, and the client User-Agent.
func (m *CSRFManager) GenerateToken(sessionID, userAgent string) string {
	return m.compute(sessionID, m.now().UTC().Format(csrfBucketLayout), userAgent)
}

// ValidateToken checks the token against the current day bucket, then the
// previous one. Comparison is constant-time and the call is padded to a
// minimum duration.
func (m *CSRFManager) ValidateToken(token, sessionID, userAgent string) bool {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < minValidateDuration {
			m.sleep(minValidateDuration - elapsed)
		}
	}()

	if token == "" || sessionID == "" {
		return false
	}

	now := m.now().UTC()
	current := m.compute(sessionID, now.Format(csrfBucketLayout), userAgent)
	previous := m.compute(sessionID, now.AddDate(0, 0, -1).Format(csrfBucketLayout), userAgent)

	matchCurrent := subtle.ConstantTimeCompare([]byte(token), []byte(current))
	matchPrevious := subtle.ConstantTimeCompare([]byte(token), []byte(previous))

	return matchCurrent == 1 || matchPrevious == 1
}

func (m *CSRFManager) compute(sessionID, bucket, userAgent string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(sessionID))
	mac.Write([]byte("."))
	mac.Write([]byte(bucket))
	mac.Write([]byte("."))
	mac.Write([]byte(uaFingerprint(userAgent)))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// uaFingerprint reduces the User-Agent to a short stable tag. It binds the
// token loosely to the browser without embedding the raw header.
func uaFingerprint(userAgent string) string {
	sum := sha256.Sum256([]byte(userAgent))
	return hex.EncodeToString(sum[:])[:8]
}
