package client

// Profile mirrors the server's profile representation.
type Profile struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Proxy   string `json:"proxy"`
	State   string `json:"state"`
	PID     int    `json:"pid"`
	LastURL string `json:"last_url"`
}

// CreateRequest is the body for profile creation.
type CreateRequest struct {
	Name  string `json:"name"`
	Proxy string `json:"proxy,omitempty"`
}

// UpdateRequest carries the mutable profile fields; nil means unchanged.
type UpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Proxy *string `json:"proxy,omitempty"`
}

// LaunchResult is the server's response to start and stop operations.
type LaunchResult struct {
	Status string `json:"status"`
	PID    int    `json:"pid,omitempty"`
}

// ErrorResponse is the server's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
