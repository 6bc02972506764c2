package model

// User is the authenticated identity attached to a request. Accounts live in
// the external auth provider; only the claims reach this service.
type User struct {
	ID    string
	Email string
}
