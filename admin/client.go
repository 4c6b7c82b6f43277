package admin

import (
	"fmt"
	"net/rpc"
)

// Client is a thin RPC client for a Server, grounded in rpc/client.go's
// NewClient/Call/Close shape.
type Client struct {
	client *rpc.Client
}

// NewClient dials an admin server at address.
func NewClient(address string) (*Client, error) {
	c, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("admin: dial: %w", err)
	}
	return &Client{client: c}, nil
}

// Stats fetches the remote heap's current counters.
func (c *Client) Stats() (StatsResponse, error) {
	req := &StatsRequest{}
	resp := &StatsResponse{}
	if err := c.client.Call("Server.Stats", req, resp); err != nil {
		return StatsResponse{}, fmt.Errorf("admin: call: %w", err)
	}
	return *resp, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}
