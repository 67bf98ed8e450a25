package model

import "time"

// Device is a client that participates in the feed
type Device struct {
	ID       string    `json:"device_id"`
	Name     string    `json:"device_name"`
	LastSeen time.Time `json:"last_seen"`
}
