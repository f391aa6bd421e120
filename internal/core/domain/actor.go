package domain

// Actor is the authenticated identity behind a request.
type Actor struct {
	ID          string
	DisplayName string
}
