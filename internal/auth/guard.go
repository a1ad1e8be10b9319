package auth

// Method names recorded on an Identity.
const (
	MethodJWT    = "jwt"
	MethodAPIKey = "api_key"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID int64
	// Method is MethodJWT or MethodAPIKey.
	Method string
	// APIKeyID is set when Method is MethodAPIKey.
	APIKeyID int64
}

// RequireOwner is the only authorization primitive: the caller may act on a
// resource only if it owns it. It does no I/O.
func RequireOwner(ownerID, userID int64) error {
	if ownerID != userID {
		return &ForbiddenError{Detail: "not authorized to access this resource"}
	}
	return nil
}
