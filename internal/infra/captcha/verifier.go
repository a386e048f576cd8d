package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/communityos/auth-service/internal/core/port"
	"github.com/communityos/auth-service/internal/infra/config"
)

const (
	turnstileVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"
	recaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
)

// Verifier checks captcha responses against the configured provider over its
// siteverify endpoint. With no secret configured the verifier is disabled and
// accepts everything.
type Verifier struct {
	endpoint string
	secret   string
	client   *http.Client
	logger   *zap.Logger
}

var _ port.CaptchaVerifier = (*Verifier)(nil)

// NewVerifier selects the provider by which secret is set. Config validation
// already rejects setting both.
func NewVerifier(cfg config.CaptchaSettings, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}

	v := &Verifier{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}

	switch {
	case cfg.TurnstileSecret != "":
		v.endpoint = turnstileVerifyURL
		v.secret = cfg.TurnstileSecret
	case cfg.RecaptchaSecret != "":
		v.endpoint = recaptchaVerifyURL
		v.secret = cfg.RecaptchaSecret
	}

	return v
}

// Enabled reports whether a provider secret is configured.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the client response token to the provider. A disabled verifier
// reports success without network traffic.
func (v *Verifier) Verify(ctx context.Context, responseToken, remoteIP string) (bool, error) {
	if !v.Enabled() {
		return true, nil
	}

	if strings.TrimSpace(responseToken) == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", responseToken)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("captcha: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha: verify request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("captcha: provider returned status %d", resp.StatusCode)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, fmt.Errorf("captcha: decode response: %w", err)
	}

	if !payload.Success {
		v.logger.Debug("captcha rejected", zap.Strings("error_codes", payload.ErrorCodes))
	}

	return payload.Success, nil
}
