package authkit

// Identity is what a CredentialBackend reports for a verified principal.
type Identity struct {
	Subject    string
	Groups     []string
	Attributes map[string]any
}

// Token is an encoded bearer token plus its expiry metadata.
type Token struct {
	Value     string
	ExpiresAt int64 // unix seconds
	TTL       int64 // ExpiresAt - IssuedAt, seconds
}

// IsExpired reports whether the token has expired at now (unix seconds).
func (t *Token) IsExpired(now int64) bool {
	return now >= t.ExpiresAt
}

// TimeToExpiry returns seconds until expiry; negative once expired.
func (t *Token) TimeToExpiry(now int64) int64 {
	return t.ExpiresAt - now
}

// LimitClass selects which request-rate ceiling a check is counted against.
type LimitClass int

const (
	// LimitGeneral applies to all traffic.
	LimitGeneral LimitClass = iota
	// LimitAuth is the stricter ceiling for authentication-sensitive routes.
	LimitAuth
)

func (c LimitClass) String() string {
	switch c {
	case LimitGeneral:
		return "general"
	case LimitAuth:
		return "auth"
	default:
		return "unknown"
	}
}
