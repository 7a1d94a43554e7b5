package oauth

// TokenStatus classifies the credentials a provider holds.
type TokenStatus int

const (
	// StatusMissing means there is no usable token and no way to get one
	// without the user signing in again.
	StatusMissing TokenStatus = iota
	// StatusExpired means the access token lapsed but a refresh may work.
	StatusExpired
	// StatusValid means the token can be attached to requests.
	StatusValid
)

func (s TokenStatus) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "missing"
	}
}

// TokenState is a TokenStatus plus, when valid, the bearer token.
type TokenState struct {
	Status TokenStatus
	Token  string
}

// Valid returns a valid state carrying token.
func Valid(token string) TokenState {
	return TokenState{Status: StatusValid, Token: token}
}

// Expired returns the expired state.
func Expired() TokenState { return TokenState{Status: StatusExpired} }

// Missing returns the missing state.
func Missing() TokenState { return TokenState{Status: StatusMissing} }

func (s TokenState) String() string { return s.Status.String() }
