package store

import "time"

// User is an account known to the service. Login is by display name only;
// credentials are outside this service.
type User struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}
