package tournament_client

import (
	"net/http"
	"time"

	"github.com/mcdev12/tourney/go/clients"
)

type TournamentClient struct {
	*clients.BaseClient
}

// Option configures a TournamentClient
type Option func(*TournamentClient)

// WithBearerToken attaches a bearer token issued by the auth service to every request.
func WithBearerToken(token string) Option {
	return func(c *TournamentClient) {
		if token != "" {
			c.SetHeader(AuthorizationHeader, "Bearer "+token)
		}
	}
}

// WithHTTPClient swaps the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *TournamentClient) {
		c.SetHTTPClient(hc)
	}
}

// WithTimeout overrides the transport timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *TournamentClient) {
		c.SetTimeout(d)
	}
}

func NewTournamentClient(baseURL string, opts ...Option) *TournamentClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	client := &TournamentClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
	for _, opt := range opts {
		opt(client)
	}

	return client
}
