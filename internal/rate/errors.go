package rate

import "errors"

var (
	// ErrRateLimited is returned when the window ceiling has been exceeded.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable is returned when the counter store cannot be reached
	// and the traffic class fails closed.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
