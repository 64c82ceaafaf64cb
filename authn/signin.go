package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultSignInURL = "https://www.tradingview.com/accounts/signin/"

type SignInProviderOptions struct {
	Username   string
	Password   string
	SignInURL  string
	HTTPClient *http.Client
	RetryLimit int           // attempts when rate limited; default 3
	RetryDelay time.Duration // initial delay, doubled each retry; default 30s
}

// SignInProvider obtains tokens through the password sign-in endpoint.
// Rate limiting is retried a bounded number of times with a doubling delay
// and then surfaced as ErrCapacityExceeded. CAPTCHA and two-factor
// challenges are not handled here; they surface as
// ErrInteractiveLoginRequired.
type SignInProvider struct {
	username   string
	password   string
	signInURL  string
	httpClient *http.Client
	retryLimit int
	retryDelay time.Duration

	mu    sync.Mutex // guards token, plan
	token string
	plan  string
}

var _ TokenProvider = (*SignInProvider)(nil)

func NewSignInProvider(opts SignInProviderOptions) *SignInProvider {
	if opts.SignInURL == "" {
		opts.SignInURL = defaultSignInURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.RetryLimit == 0 {
		opts.RetryLimit = 3
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 30 * time.Second
	}

	return &SignInProvider{
		username:   opts.Username,
		password:   opts.Password,
		signInURL:  opts.SignInURL,
		httpClient: opts.HTTPClient,
		retryLimit: opts.RetryLimit,
		retryDelay: opts.RetryDelay,
	}
}

func (p *SignInProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" {
		return p.token, nil
	}
	token, err := p.signIn(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}

func (p *SignInProvider) Refresh(ctx context.Context, rejected string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == rejected {
		p.token = ""
	}
	token, err := p.signIn(ctx)
	if err != nil {
		return "", err
	}
	p.token = token
	return token, nil
}

// Plan reports the subscription tier learned from the last successful
// sign-in, or empty when none happened yet.
func (p *SignInProvider) Plan() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.plan
}

type signInResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
	User  struct {
		AuthToken string `json:"auth_token"`
		ProPlan   string `json:"pro_plan"`
	} `json:"user"`
}

func (p *SignInProvider) signIn(ctx context.Context) (string, error) {
	if p.username == "" || p.password == "" {
		return "", ErrNoToken
	}

	delay := p.retryDelay
	for attempt := 1; ; attempt++ {
		resp, err := p.post(ctx)
		if err != nil {
			return "", err
		}

		switch resp.Code {
		case "rate_limit":
			if attempt >= p.retryLimit {
				return "", fmt.Errorf("%w: still rate limited after %d attempts", ErrCapacityExceeded, attempt)
			}
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
			delay *= 2
			continue
		case "recaptcha_required", "2FA_required":
			return "", fmt.Errorf("%w: sign-in answered with %q", ErrInteractiveLoginRequired, resp.Code)
		}

		if resp.Error != "" {
			return "", fmt.Errorf("sign-in error [%s]: %s", resp.Code, resp.Error)
		}
		if resp.User.AuthToken == "" {
			return "", fmt.Errorf("sign-in response carried no auth token")
		}
		p.plan = resp.User.ProPlan // mu is held by Token/Refresh
		return resp.User.AuthToken, nil
	}
}

func (p *SignInProvider) post(ctx context.Context) (signInResponse, error) {
	form := url.Values{}
	form.Set("username", p.username)
	form.Set("password", p.password)
	form.Set("remember", "on")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.signInURL, strings.NewReader(form.Encode()))
	if err != nil {
		return signInResponse{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", "https://www.tradingview.com")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return signInResponse{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return signInResponse{}, err
	}

	var parsed signInResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return signInResponse{}, fmt.Errorf("sign-in: unexpected response (HTTP %d)", resp.StatusCode)
	}
	return parsed, nil
}
