// Package identity exposes the "current signed-in user id, or none"
// boundary. The core only reads the identity; sign-in itself is handled
// outside of it.
package identity

// Provider reports the currently signed-in user.
type Provider interface {
	// CurrentUID returns the signed-in user id, or "" and false when
	// nobody is signed in.
	CurrentUID() (string, bool)
}

// Static is a Provider with a fixed uid, used when the session is
// established out-of-band (e.g. a service account on the daemon host).
type Static struct {
	UID string
}

func (s Static) CurrentUID() (string, bool) {
	return s.UID, s.UID != ""
}
