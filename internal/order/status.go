package order

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPackaging      Status = "packaging"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusFailed         Status = "failed"
	StatusReturned       Status = "returned"
)

// AllStatuses in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusConfirmed,
	StatusPackaging,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusFailed,
	StatusReturned,
}

// position along the forward path; off-path states are absent.
var forward = map[Status]int{
	StatusPending:        0,
	StatusConfirmed:      1,
	StatusPackaging:      2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPackaging, StatusOutForDelivery,
		StatusDelivered, StatusCancelled, StatusFailed, StatusReturned:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusFailed, StatusReturned:
		return true
	}
	return false
}

// CanCancel reports whether a customer or admin may still cancel.
func CanCancel(s Status) bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusPackaging:
		return true
	}
	return false
}

// CanAdvance reports whether an admin update may move from one status to
// another. Forward moves may skip steps; failed and returned are reachable
// from any non-terminal status. Cancellation has its own operation.
func CanAdvance(from, to Status) bool {
	if from.Terminal() || !to.Valid() {
		return false
	}
	switch to {
	case StatusCancelled:
		return false
	case StatusFailed, StatusReturned:
		return true
	}
	return forward[to] > forward[from]
}
