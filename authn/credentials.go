package authn

import "os"

// CredentialsParams carries the caller-supplied credentials. Empty fields
// fall back to environment variables.
type CredentialsParams struct {
	Token    string // explicit bearer token; env TV_TOKEN
	Username string // env TV_USERNAME
	Password string // env TV_PASSWORD
}

type credentials struct {
	token    string
	username string
	password string
}

func newCredentials(p CredentialsParams) credentials {
	if p.Token == "" {
		p.Token = os.Getenv("TV_TOKEN")
	}
	if p.Username == "" {
		p.Username = os.Getenv("TV_USERNAME")
	}
	if p.Password == "" {
		p.Password = os.Getenv("TV_PASSWORD")
	}

	return credentials{
		token:    p.Token,
		username: p.Username,
		password: p.Password,
	}
}

// NewDefault builds the usual provider ranking from params and environment:
// explicit token, then the on-disk token cache, then password sign-in, and
// finally anonymous access.
func NewDefault(p CredentialsParams) TokenProvider {
	creds := newCredentials(p)

	providers := make([]TokenProvider, 0, 4)
	if creds.token != "" {
		providers = append(providers, StaticToken(creds.token))
	}
	cache := NewFileTokenCache("")
	if creds.username != "" && creds.password != "" {
		signIn := NewSignInProvider(SignInProviderOptions{
			Username: creds.username,
			Password: creds.password,
		})
		providers = append(providers, NewCachedProvider(cache, signIn))
	} else {
		providers = append(providers, NewCachedProvider(cache, nil))
	}
	providers = append(providers, Anonymous())
	return NewChain(providers...)
}
