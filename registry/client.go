package registry

import "time"

// Status is a client's lifecycle state within the federation.
type Status string

const (
	// StatusRegistered means the client is known and eligible for selection.
	StatusRegistered Status = "Registered"
	// StatusTraining means the client is working on the current round.
	StatusTraining Status = "Training"
	// StatusUploaded means the client submitted its contribution this round.
	StatusUploaded Status = "Uploaded"
	// StatusOffline means the client missed its heartbeat window.
	StatusOffline Status = "Offline"
	// StatusExcluded means an operator or policy removed the client from
	// selection without forgetting it.
	StatusExcluded Status = "Excluded"
)

// Client is one federated participant. DatasetSize weights its contribution
// during aggregation.
type Client struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Status        Status    `json:"status"`
	DatasetSize   uint64    `json:"dataset_size"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	LocalAccuracy float64   `json:"local_accuracy,omitempty"`
	RegisteredAt  time.Time `json:"registered_at"`
}

// Eligible reports whether the client may be selected for a round starting
// at now, given the staleness window.
func (c Client) Eligible(now time.Time, staleAfter time.Duration) bool {
	switch c.Status {
	case StatusOffline, StatusExcluded:
		return false
	}

	return now.Sub(c.LastHeartbeat) <= staleAfter
}

// ClientPage is a paginated client listing.
type ClientPage struct {
	Offset  uint64   `json:"offset"`
	Limit   uint64   `json:"limit"`
	Total   uint64   `json:"total"`
	Clients []Client `json:"clients"`
}
