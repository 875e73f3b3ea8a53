// Package generator turns the YAML list of IPv4 CIDR prefixes and the
// configured blocklist zones into the day's flat task seed sequence.
package generator
