// Package validator checks client registration payloads before they are
// written to the registry.
package validator

import "regexp"

var nameRe = regexp.MustCompile(`\A[\w.\-]+\z`)

// Client validates client registration payloads. A payload is valid when it
// has a name matching [\w.-]+, an optional string address, and an optional
// subscriptions array of strings.
type Client struct{}

// NewClient returns the default client payload validator.
func NewClient() *Client {
	return &Client{}
}

// Valid reports whether the payload is an acceptable client definition.
func (c *Client) Valid(client map[string]any) bool {
	name, ok := client["name"].(string)
	if !ok || !nameRe.MatchString(name) {
		return false
	}

	if address, present := client["address"]; present {
		if _, ok := address.(string); !ok {
			return false
		}
	}

	if subscriptions, present := client["subscriptions"]; present {
		items, ok := subscriptions.([]any)
		if !ok {
			return false
		}
		for _, item := range items {
			if _, ok := item.(string); !ok {
				return false
			}
		}
	}

	return true
}
