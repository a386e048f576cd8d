package port

import "context"

// EmailSender delivers transactional mail. Implementations must not log the
// message body, which can carry single-use sign-in links.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// CaptchaVerifier checks a client-supplied captcha response with the
// configured provider. A disabled verifier reports success for every input.
type CaptchaVerifier interface {
	Verify(ctx context.Context, responseToken, remoteIP string) (bool, error)
	Enabled() bool
}
