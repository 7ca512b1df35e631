package mailbox

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"

	"helpdesk-ingest-go/internal/model"
)

// Credentials authenticate one session. AccessToken selects XOAUTH2;
// otherwise Password is used with LOGIN.
type Credentials struct {
	Username    string
	Password    string
	AccessToken string
}

// CredentialProvider returns currently valid credentials for a mailbox
type CredentialProvider interface {
	Credentials(ctx context.Context, mb model.Mailbox) (Credentials, error)
}

// Provider serves password mailboxes directly and refreshes bearer tokens
// for xoauth2 mailboxes through an OAuth client.
type Provider struct {
	oauth *oauth2.Config

	mu      sync.Mutex
	sources map[string]oauth2.TokenSource
}

// NewProvider creates a credential provider. oauthConfig may be nil when no
// mailbox uses xoauth2.
func NewProvider(oauthConfig *oauth2.Config) *Provider {
	return &Provider{
		oauth:   oauthConfig,
		sources: make(map[string]oauth2.TokenSource),
	}
}

// GoogleOAuthConfig builds the OAuth client used for Gmail IMAP access
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{gmail.MailGoogleComScope},
		Endpoint:     google.Endpoint,
	}
}

// Credentials implements CredentialProvider
func (p *Provider) Credentials(ctx context.Context, mb model.Mailbox) (Credentials, error) {
	creds := Credentials{Username: mb.LoginName()}

	switch strings.ToLower(mb.AuthType) {
	case "", model.AuthPassword:
		creds.Password = mb.Password
		return creds, nil
	case model.AuthXOAuth2:
	default:
		return Credentials{}, fmt.Errorf("unsupported auth type %q", mb.AuthType)
	}

	if p.oauth == nil {
		return Credentials{}, fmt.Errorf("mailbox %s uses xoauth2 but no OAuth client is configured", mb.Address)
	}
	if mb.RefreshToken == "" {
		return Credentials{}, fmt.Errorf("mailbox %s has no refresh token", mb.Address)
	}

	tok, err := p.tokenSource(mb).Token()
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to refresh access token: %w", err)
	}
	creds.AccessToken = tok.AccessToken
	return creds, nil
}

func (p *Provider) tokenSource(mb model.Mailbox) oauth2.TokenSource {
	key := fmt.Sprintf("%d:%s", mb.ID, mb.RefreshToken)

	p.mu.Lock()
	defer p.mu.Unlock()

	src, ok := p.sources[key]
	if !ok {
		// the source outlives the request, so it must not capture its context
		src = p.oauth.TokenSource(context.Background(), &oauth2.Token{RefreshToken: mb.RefreshToken})
		p.sources[key] = src
	}
	return src
}

// xoauth2Client implements the XOAUTH2 SASL mechanism used by Gmail and
// Outlook IMAP.
type xoauth2Client struct {
	username string
	token    string
}

var _ sasl.Client = (*xoauth2Client)(nil)

func newXOAuth2Client(username, token string) sasl.Client {
	return &xoauth2Client{username: username, token: token}
}

func (a *xoauth2Client) Start() (mech string, ir []byte, err error) {
	return "XOAUTH2", []byte("user=" + a.username + "\x01auth=Bearer " + a.token + "\x01\x01"), nil
}

// Next answers the JSON error challenge sent on failure with an empty
// response so the server completes the exchange with a tagged NO.
func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	return []byte{}, nil
}
