package domain

// Caller identifies the user on whose behalf an operation runs.
type Caller struct {
	UserID      string
	DisplayName string
}
