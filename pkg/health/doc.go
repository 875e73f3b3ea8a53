/*
Package health runs startup self-tests so a misconfigured run fails before
any task is generated or queued.

Checks split into two tiers: required checks (resolver, broker, ledger,
analytic store) abort the run on failure, while advisory checks (the
per-zone test-point probe) only warn, since a blocklist occasionally drops
the 127.0.0.2 test entry without being broken.
*/
package health
