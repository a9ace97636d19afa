package genai

import (
	"net/http"
	"time"
)

type Option func(*Client)

func RemovalTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.removalTimeout = timeout
	}
}

func CompositeTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.compositeTimeout = timeout
	}
}

func HTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}
