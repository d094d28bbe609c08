/*
Package main implements dnsproxy, a transparent DNS proxy that routes around
resolvers which tamper with answers.

Networks such as ISPs or captive portals often hand out resolvers that
rewrite the answers for blocked domains to the address of a block page.
dnsproxy points the DNS configuration of the matching interfaces at itself
and keeps using the network's own ("bad") resolvers, so local names keep
working, but checks every answer for the addresses those resolvers are known
to return for censored names. When a tampered or empty answer is seen the
query is answered through trusted ("good") public resolvers instead.

Components:

 1. Resolver - walks the bad servers, checks for tamper signatures and falls
    back to the good servers
 2. Server - UDP DNS front end, one goroutine per request
 3. Monitor - polls the interfaces every second, learns the bad servers and
    their tamper signatures and redirects or restores the interfaces
 4. Netconf - per-interface DNS settings through systemd-resolved, or in
    memory for dry runs
 5. AccessList, RateLimit - client filtering
 6. AccessLog, Metrics, API - observability

Configuration:

dnsproxy uses a TOML configuration file (default: dnsproxy.conf), generated
with defaults when missing. The trusted resolvers can be listed inline or
fetched from a JSON document that is cached on disk and watched for changes.

Usage:

	dnsproxy [--config dnsproxy.conf] [--dry-run]
	dnsproxy probe 192.0.2.53
	dnsproxy genconfig dnsproxy.conf

On SIGINT or SIGTERM every redirected interface is restored to its automatic
DNS configuration before the process exits.
*/
package main
