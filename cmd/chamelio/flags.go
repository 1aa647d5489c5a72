package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags holds daemon connection flags for profile commands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// CreateFlags holds flags for the create command.
type CreateFlags struct {
	Name  string
	Proxy string
}

// UpdateFlags holds flags for the update command.
type UpdateFlags struct {
	ID    string
	Name  string
	Proxy string
}

// IDFlags holds the profile id flag shared by delete, start and stop.
type IDFlags struct {
	ID string
}
