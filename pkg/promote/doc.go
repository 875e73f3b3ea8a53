/*
Package promote publishes the day's listed tasks to the shared analytic
Postgres, with an optional document-store mirror.

Promotion is an upsert keyed by (ip_address, dns, check_date), so re-running
a day refreshes the existing rows instead of duplicating them. A missing
destination table is created on first use; deployments that pre-provision
the schema never hit that path.
*/
package promote
