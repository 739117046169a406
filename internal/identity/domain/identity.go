package domain

// Identity is the authenticated caller bound to a request or realtime session. It never changes
// for the lifetime of a session.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
}

// Name returns the display name, falling back to the user id.
func (i *Identity) Name() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.UserID
}
