// Package gitauth mints short-lived GitHub App installation tokens for git
// network operations and API access. Tokens are cached and refreshed before
// expiry; callers always receive a token with a usable lifetime remaining.
package gitauth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gh "github.com/google/go-github/v82/github"
)

// ErrCredentialsMissing indicates the GitHub App credentials are not configured.
var ErrCredentialsMissing = errors.New("gitauth: GitHub App credentials not configured")

// expiryBuffer is how long before token expiry a cached token is considered
// stale. Installation tokens live one hour; refreshing five minutes early
// keeps long git operations from racing expiry.
const expiryBuffer = 5 * time.Minute

// TokenProvider supplies a currently-valid access token.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// AppTokenProvider implements TokenProvider using GitHub App installation
// tokens: it signs an app JWT with the App's private key and exchanges it for
// an installation token via the GitHub API.
type AppTokenProvider struct {
	appID          string
	installationID int64
	key            *rsa.PrivateKey
	client         *gh.Client

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewAppTokenProvider loads the App private key from keyPath and returns a
// provider for the given app and installation.
func NewAppTokenProvider(appID, installationID, keyPath string) (*AppTokenProvider, error) {
	if appID == "" || installationID == "" || keyPath == "" {
		return nil, ErrCredentialsMissing
	}

	instID, err := strconv.ParseInt(installationID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid installation id %q: %w", installationID, err)
	}

	pem, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading GitHub App private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
	if err != nil {
		return nil, fmt.Errorf("parsing GitHub App private key: %w", err)
	}

	return &AppTokenProvider{
		appID:          appID,
		installationID: instID,
		key:            key,
		client:         gh.NewClient(nil),
	}, nil
}

// Token returns a cached installation token, minting a fresh one when the
// cache is empty or within the expiry buffer.
func (p *AppTokenProvider) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Until(p.expires) > expiryBuffer {
		return p.token, nil
	}
	if p.token != "" {
		slog.Debug("installation token approaching expiry, refreshing")
	}

	appJWT, err := p.signAppJWT()
	if err != nil {
		return "", fmt.Errorf("signing app JWT: %w", err)
	}

	client := p.client.WithAuthToken(appJWT)
	tok, _, err := client.Apps.CreateInstallationToken(ctx, p.installationID, nil)
	if err != nil {
		return "", fmt.Errorf("creating installation token: %w", err)
	}

	p.token = tok.GetToken()
	p.expires = tok.GetExpiresAt().Time
	slog.Debug("minted new GitHub App installation token", "expiresAt", p.expires)
	return p.token, nil
}

// signAppJWT produces the short-lived RS256 JWT GitHub requires for
// app-level authentication. Issued-at is backdated 60s to absorb clock skew.
func (p *AppTokenProvider) signAppJWT() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    p.appID,
		IssuedAt:  jwt.NewNumericDate(now.Add(-60 * time.Second)),
		ExpiresAt: jwt.NewNumericDate(now.Add(9 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(p.key)
}

// StaticTokenProvider returns a fixed token. Used for PAT-only deployments
// and tests.
type StaticTokenProvider string

func (s StaticTokenProvider) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrCredentialsMissing
	}
	return string(s), nil
}

var (
	shorthandPattern = regexp.MustCompile(`^([^/\s]+)/([^/\s]+)$`)
	httpsPattern     = regexp.MustCompile(`github\.com/([^/]+)/([^/.]+)`)
)

// ParseRepoURL extracts owner and repo from "owner/repo" shorthand or an
// https GitHub URL (with or without a .git suffix).
func ParseRepoURL(url string) (owner, repo string, err error) {
	if m := shorthandPattern.FindStringSubmatch(url); m != nil {
		return m[1], m[2], nil
	}
	if m := httpsPattern.FindStringSubmatch(url); m != nil {
		return m[1], m[2], nil
	}
	return "", "", fmt.Errorf("cannot parse repository URL %q", url)
}

// CloneURL builds an authenticated HTTPS clone URL using a fresh token from
// the provider.
func CloneURL(ctx context.Context, tokens TokenProvider, repoURL string) (string, error) {
	owner, repo, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}
	token, err := tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", token, owner, repo), nil
}
