package csc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RecordOutcome is the result of an add-record call. The API either creates
// the record or reports that an identical one already exists; both count as
// success for challenge purposes, since certbot may retry a failed
// propagation wait without rolling back first.
type RecordOutcome int

const (
	// RecordCreated means the API accepted a new record.
	RecordCreated RecordOutcome = iota
	// RecordAlreadyExists means an identical record was already present.
	RecordAlreadyExists
)

func (o RecordOutcome) String() string {
	switch o {
	case RecordCreated:
		return "created"
	case RecordAlreadyExists:
		return "already-exists"
	default:
		return fmt.Sprintf("unknown(%d)", int(o))
	}
}

type recordBody struct {
	Type  string `json:"type"`
	Name  string `json:"name"`
	Value string `json:"value"`
	TTL   int    `json:"ttl,omitempty"`
}

// AddTXTRecord creates a TXT record in the given zone. Name is relative to
// the zone apex ("" for the apex itself). A conflict response from the API is
// reported as RecordAlreadyExists, not an error.
func (c *Client) AddTXTRecord(ctx context.Context, zone Zone, name, value string, ttl int) (RecordOutcome, error) {
	path := fmt.Sprintf("/zones/%s/records", url.PathEscape(zone.ID))
	body := recordBody{Type: "TXT", Name: name, Value: value, TTL: ttl}

	err := c.do(ctx, http.MethodPost, path, nil, body, nil)
	if err != nil {
		if isAlreadyExists(err) {
			c.log.Info("TXT record already present", "zone", zone.ZoneName, "name", name)
			return RecordAlreadyExists, nil
		}
		return 0, err
	}

	c.log.Info("TXT record created", "zone", zone.ZoneName, "name", name)
	return RecordCreated, nil
}

// DeleteTXTRecord removes the TXT record matching both name and value in the
// given zone. Matching on value as well as name ensures that co-located
// challenge records for other certificates sharing the same name survive.
func (c *Client) DeleteTXTRecord(ctx context.Context, zone Zone, name, value string) error {
	path := fmt.Sprintf("/zones/%s/records", url.PathEscape(zone.ID))
	query := url.Values{
		"type":  {"TXT"},
		"name":  {name},
		"value": {value},
	}

	if err := c.do(ctx, http.MethodDelete, path, query, nil, nil); err != nil {
		return err
	}

	c.log.Info("TXT record deleted", "zone", zone.ZoneName, "name", name)
	return nil
}

// isAlreadyExists reports whether err is the API's duplicate-record
// rejection. Matched on status and code rather than message text, which is
// fragile across API versions.
func isAlreadyExists(err error) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	if apiErr.StatusCode == http.StatusConflict {
		return true
	}
	return apiErr.StatusCode == http.StatusBadRequest &&
		strings.EqualFold(apiErr.Code, "RECORD_EXISTS")
}
