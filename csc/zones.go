package csc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const zonePageSize = 50

// Zone is a DNS zone managed by the account. The ID is the opaque identifier
// the API uses to scope record operations.
type Zone struct {
	ZoneName string `json:"zoneName"`
	ID       string `json:"id"`
}

type zonesPage struct {
	Meta struct {
		NumResults int `json:"numResults"`
		Pages      int `json:"pages"`
		Page       int `json:"page"`
	} `json:"meta"`
	Zones []Zone `json:"zones"`
}

// ListZones fetches the complete set of zones managed by the account,
// following pagination until the API reports no further pages. The list is
// fetched fresh on every call; staleness here would risk creating challenge
// records in a zone the account no longer manages.
func (c *Client) ListZones(ctx context.Context) ([]Zone, error) {
	var zones []Zone

	for page := 1; ; page++ {
		query := url.Values{
			"page": {strconv.Itoa(page)},
			"size": {strconv.Itoa(zonePageSize)},
		}

		var resp zonesPage
		if err := c.do(ctx, http.MethodGet, "/zones", query, nil, &resp); err != nil {
			return nil, err
		}

		zones = append(zones, resp.Zones...)

		if len(resp.Zones) == 0 || resp.Meta.Pages <= page {
			break
		}
	}

	c.log.V(1).Info("listed zones", "count", len(zones))
	return zones, nil
}

// ResolveZone determines the most specific managed zone whose name is a
// suffix of fqdn. Candidates are produced by stripping leading labels one at
// a time, so for "a.b.example.com" the walk is "a.b.example.com",
// "b.example.com", "example.com"; the first candidate with an exact
// case-insensitive zone match wins. An account may manage both "example.com"
// and a delegated "sub.example.com"; the record must land in the most
// specific zone or verification will query the wrong nameservers.
//
// Returns ErrZoneNotFound when no managed zone matches.
func (c *Client) ResolveZone(ctx context.Context, fqdn string) (Zone, error) {
	zones, err := c.ListZones(ctx)
	if err != nil {
		return Zone{}, err
	}

	byName := make(map[string]Zone, len(zones))
	for _, z := range zones {
		byName[strings.ToLower(strings.TrimSuffix(z.ZoneName, "."))] = z
	}

	for _, candidate := range zoneCandidates(fqdn) {
		if z, ok := byName[candidate]; ok {
			c.log.V(1).Info("resolved zone", "domain", fqdn, "zone", z.ZoneName)
			return z, nil
		}
	}

	return Zone{}, fmt.Errorf("%w: %s", ErrZoneNotFound, fqdn)
}

// zoneCandidates returns every suffix of fqdn obtained by stripping leading
// labels, most specific first, normalized to lowercase without a trailing dot.
func zoneCandidates(fqdn string) []string {
	name := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(fqdn), "."))
	if name == "" {
		return nil
	}

	labels := strings.Split(name, ".")
	candidates := make([]string, 0, len(labels))
	for i := range labels {
		candidates = append(candidates, strings.Join(labels[i:], "."))
	}
	return candidates
}
