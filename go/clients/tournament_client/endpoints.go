package tournament_client

const (
	// Base URL
	DefaultBaseURL = "http://localhost:8000"

	// API Endpoints
	TournamentsEndpoint = "/tournaments"
	APIURLSuffix        = "/api-url"

	// Headers
	AuthorizationHeader = "Authorization"
)
