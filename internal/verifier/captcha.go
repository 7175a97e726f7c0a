package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BradenHooton/parlourguard/internal/models"
)

// DefaultCaptchaTimeout bounds one siteverify round trip
const DefaultCaptchaTimeout = 5 * time.Second

// CaptchaConfig configures the siteverify client
type CaptchaConfig struct {
	VerifyURL string
	Secret    string
	Timeout   time.Duration
	// Production disables the no-secret fallback
	Production bool
}

// CaptchaVerifier checks a CAPTCHA response token against a siteverify endpoint
// (reCAPTCHA, hCaptcha and Turnstile share the wire format).
type CaptchaVerifier struct {
	config CaptchaConfig
	client *http.Client
}

type siteVerifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

func NewCaptchaVerifier(config CaptchaConfig) *CaptchaVerifier {
	if config.Timeout <= 0 {
		config.Timeout = DefaultCaptchaTimeout
	}
	return &CaptchaVerifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

func (v *CaptchaVerifier) Prepare(ctx context.Context, challenge *models.Challenge) (Delivery, error) {
	return Delivery{}, nil
}

func (v *CaptchaVerifier) Verify(ctx context.Context, challenge *models.Challenge, answer string) (bool, error) {
	if strings.TrimSpace(answer) == "" {
		return false, nil
	}

	if v.config.Secret == "" {
		if v.config.Production {
			return false, fmt.Errorf("captcha secret not configured")
		}
		return true, nil
	}

	form := url.Values{}
	form.Set("secret", v.config.Secret)
	form.Set("response", answer)
	if challenge.IPAddress != "" {
		form.Set("remoteip", challenge.IPAddress)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.config.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("failed to build siteverify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("siteverify request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("siteverify returned status %d", resp.StatusCode)
	}

	var out siteVerifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return false, fmt.Errorf("failed to decode siteverify response: %w", err)
	}
	return out.Success, nil
}
