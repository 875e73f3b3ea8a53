/*
Package probe implements the DNSBL prober.

A probe reverses the dotted-quad octets of an IPv4 address, appends the
blocklist zone suffix and issues an A query:

	1.2.3.4 against zen.example  ->  4.3.2.1.zen.example. A?

NXDOMAIN means the address is not listed. One or more A records mean it is
listed, in which case a follow-up TXT query fetches the listing explanation
for the details column. Timeouts, empty answers, server failures and other
resolver errors each map to their own terminal result; the prober never
retries and never surfaces an error, retry policy belongs to the caller.
*/
package probe
