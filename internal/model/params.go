package model

import "fmt"

// Profile selects the Argon2id cost profile for a device class. Both sides
// of a conversation must use the same profile or their master keys diverge.
type Profile string

const (
	ProfileDesktop Profile = "desktop"
	ProfileMobile  Profile = "mobile"
)

// ParseProfile maps the wire/QR string form to a Profile.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileDesktop, ProfileMobile:
		return Profile(s), nil
	}
	return "", fmt.Errorf("unknown profile %q", s)
}

const SaltSize = 16

type (
	// ConversationParams are the public parameters of a conversation,
	// shared out-of-band (QR code or paste) between the participants.
	// Immutable once created; only the seed is secret.
	ConversationParams struct {
		ConvID  string
		Salt    []byte // SaltSize random bytes
		Profile Profile
	}
)
