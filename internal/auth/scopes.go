package auth

const (
	ScopeOpenID        = "openid"
	ScopeProfile       = "profile"
	ScopeEmail         = "email"
	ScopeRequestsRead  = "requests:read"
	ScopeRequestsWrite = "requests:write"
)

// AllScopes defines the full set of scopes requested by API clients.
var AllScopes = []string{
	ScopeOpenID,
	ScopeProfile,
	ScopeEmail,
	ScopeRequestsRead,
	ScopeRequestsWrite,
}
