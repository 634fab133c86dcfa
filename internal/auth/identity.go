package auth

// Kind names the credential an Identity was resolved from.
type Kind string

const (
	KindStaticKey Kind = "static_key"
	KindUserKey   Kind = "user_key"
	KindOAuth     Kind = "oauth"
)

// Identity is the resolved caller of a request. The set of implementations
// is closed: StaticKeyIdentity, UserKeyIdentity and OAuthIdentity. Code that
// needs per-kind behaviour switches on the concrete type.
type Identity interface {
	Kind() Kind
	// Name is what responses and usage logs show as the caller:
	// the alias for static keys, the owner's email otherwise.
	Name() string
	// GA4Property is the property id queries run against. It may be empty
	// when nothing is configured; the GA4 layer rejects that.
	GA4Property() string

	identity()
}

// StaticKeyIdentity is a caller using a key from the API_KEY_<ALIAS>
// environment table.
type StaticKeyIdentity struct {
	Alias    string
	Property string
}

// UserKeyIdentity is a caller using a key generated by a registered user.
type UserKeyIdentity struct {
	UserID   int64
	KeyID    int64
	Email    string
	Property string
}

// OAuthIdentity is a caller presenting a Google access token issued through
// the login flow. AccessToken is the current token, which differs from the
// presented one when it had to be refreshed.
type OAuthIdentity struct {
	UserID      int64
	Email       string
	Property    string
	AccessToken string
}

func (StaticKeyIdentity) Kind() Kind { return KindStaticKey }
func (UserKeyIdentity) Kind() Kind   { return KindUserKey }
func (OAuthIdentity) Kind() Kind     { return KindOAuth }

func (i StaticKeyIdentity) Name() string { return i.Alias }
func (i UserKeyIdentity) Name() string   { return i.Email }
func (i OAuthIdentity) Name() string     { return i.Email }

func (i StaticKeyIdentity) GA4Property() string { return i.Property }
func (i UserKeyIdentity) GA4Property() string   { return i.Property }
func (i OAuthIdentity) GA4Property() string     { return i.Property }

func (StaticKeyIdentity) identity() {}
func (UserKeyIdentity) identity()   {}
func (OAuthIdentity) identity()     {}

// UserID returns the owning user of an identity. Static keys have none.
func UserID(id Identity) (int64, bool) {
	switch v := id.(type) {
	case UserKeyIdentity:
		return v.UserID, true
	case OAuthIdentity:
		return v.UserID, true
	case StaticKeyIdentity:
		return 0, false
	default:
		return 0, false
	}
}
