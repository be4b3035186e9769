// Package dnscheck verifies that a dns-01 challenge TXT record has become
// visible to a resolver, for use as a propagation pre-check before asking
// the ACME server to validate.
package dnscheck

import (
	"fmt"
	"time"

	"github.com/miekg/dns"
)

const queryTimeout = 10 * time.Second

// VerifyTXT queries resolver (host:port) for TXT records at fqdn and reports
// whether expected is among the returned values. Multi-string TXT answers are
// joined, matching how validators reassemble long challenge tokens.
func VerifyTXT(fqdn, expected, resolver string) (bool, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeTXT)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: queryTimeout}
	in, _, err := client.Exchange(msg, resolver)
	if err != nil {
		return false, fmt.Errorf("dnscheck: query %s against %s: %w", fqdn, resolver, err)
	}

	if in.Rcode != dns.RcodeSuccess && in.Rcode != dns.RcodeNameError {
		return false, fmt.Errorf("dnscheck: query %s against %s: rcode %s", fqdn, resolver, dns.RcodeToString[in.Rcode])
	}

	for _, rr := range in.Answer {
		txt, ok := rr.(*dns.TXT)
		if !ok {
			continue
		}
		joined := ""
		for _, part := range txt.Txt {
			joined += part
		}
		if joined == expected {
			return true, nil
		}
	}
	return false, nil
}
