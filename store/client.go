package store

import "context"

// Client is a handle given to application code for one storage
// service. All clients of a service share its request queue, but every
// request carries its own private response channel, so a response can
// never be delivered to the wrong caller — not even to a later request
// from the same client whose earlier request was abandoned while still
// queued. The expected usage is one outstanding request per client at
// a time; the design does not multiplex multiple in-flight requests
// over one handle.
type Client[T any] struct {
	service *Service[T]
}

// NewClient creates a client for a service.
func NewClient[T any](service *Service[T]) *Client[T] {
	return &Client[T]{service: service}
}

// request enqueues a request, rings the service doorbell and awaits
// the correlated response. A full queue blocks the caller rather than
// dropping the request. The reply channel is fresh per request: an
// abandoned request's response lands in a channel nothing reads again
// instead of being mistaken for the next request's response.
func (client *Client[T]) request(ctx context.Context, req request[T]) (response[T], error) {
	reply := make(chan response[T], 1)
	req.reply = reply

	select {
	case client.service.requests <- req:
	case <-ctx.Done():
		return response[T]{}, ctx.Err()
	}

	client.service.ring()

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return response[T]{}, ctx.Err()
	}
}

// Read returns the service's current stored value. It reports
// ErrNotFound when no value is stored and ErrRequestFailed for any
// other failure.
func (client *Client[T]) Read(ctx context.Context) (T, error) {
	resp, err := client.request(ctx, request[T]{kind: requestRead})

	if err != nil {
		var zero T

		return zero, err
	}

	return resp.value, resp.err
}

// Write durably stores value as the service's current value.
func (client *Client[T]) Write(ctx context.Context, value T) error {
	resp, err := client.request(ctx, request[T]{kind: requestWrite, value: value})

	if err != nil {
		return err
	}

	return resp.err
}

// Delete removes the service's stored value. Deleting an absent value
// succeeds.
func (client *Client[T]) Delete(ctx context.Context) error {
	resp, err := client.request(ctx, request[T]{kind: requestDelete})

	if err != nil {
		return err
	}

	return resp.err
}
