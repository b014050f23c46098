package device

import "time"

// Device is one entry in a user's device registry. The ID is always in
// canonical form: four uppercase hexadecimal characters.
type Device struct {
	UserID    string
	ID        string
	Name      string
	CreatedAt time.Time
}
