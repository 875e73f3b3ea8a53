package health

import (
	"context"
	"net"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/miekg/dns"

	"github.com/blwatch/blwatch/pkg/ledger"
	"github.com/blwatch/blwatch/pkg/probe"
	"github.com/blwatch/blwatch/pkg/queue"
	"github.com/blwatch/blwatch/pkg/types"
)

// testPointIP is the conventional address every DNSBL lists for testing.
const testPointIP = "127.0.0.2"

// ResolverChecker verifies that at least one configured resolver answers.
type ResolverChecker struct {
	Resolvers []string
	Timeout   time.Duration
}

func (c *ResolverChecker) Name() string { return "resolver" }

func (c *ResolverChecker) Check(ctx context.Context) Result {
	start := time.Now()
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := &dns.Client{Timeout: timeout}

	resolvers := c.Resolvers
	if len(resolvers) == 0 {
		cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return result(c.Name(), start, false, "no resolvers configured and %v", err)
		}
		for _, s := range cc.Servers {
			resolvers = append(resolvers, net.JoinHostPort(s, cc.Port))
		}
	}

	m := new(dns.Msg)
	m.SetQuestion("example.com.", dns.TypeA)

	var lastErr error
	for _, server := range resolvers {
		if _, _, err := client.ExchangeContext(ctx, m, server); err == nil {
			return result(c.Name(), start, true, "resolver %s answered", server)
		} else {
			lastErr = err
		}
	}
	return result(c.Name(), start, false, "no resolver answered: %v", lastErr)
}

// BrokerChecker verifies the broker is reachable and the queue declarable.
type BrokerChecker struct {
	URL   string
	Queue string
}

func (c *BrokerChecker) Name() string { return "broker" }

func (c *BrokerChecker) Check(ctx context.Context) Result {
	start := time.Now()
	broker, err := queue.Dial(c.URL)
	if err != nil {
		return result(c.Name(), start, false, "connect failed: %v", err)
	}
	defer broker.Close()
	if err := broker.EnsureQueue(c.Queue); err != nil {
		return result(c.Name(), start, false, "queue declare failed: %v", err)
	}
	return result(c.Name(), start, true, "queue %s reachable", c.Queue)
}

// LedgerChecker verifies the ledger database opens and initializes.
type LedgerChecker struct {
	DBPath string
}

func (c *LedgerChecker) Name() string { return "ledger" }

func (c *LedgerChecker) Check(ctx context.Context) Result {
	start := time.Now()
	store, err := ledger.NewSQLiteStore(c.DBPath)
	if err != nil {
		return result(c.Name(), start, false, "open failed: %v", err)
	}
	store.Close()
	return result(c.Name(), start, true, "ledger %s writable", c.DBPath)
}

// AnalyticChecker verifies the analytic Postgres answers a ping.
type AnalyticChecker struct {
	DSN string
}

func (c *AnalyticChecker) Name() string { return "analytic" }

func (c *AnalyticChecker) Check(ctx context.Context) Result {
	start := time.Now()
	db, err := sqlx.Open("pgx", c.DSN)
	if err != nil {
		return result(c.Name(), start, false, "open failed: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return result(c.Name(), start, false, "ping failed: %v", err)
	}
	return result(c.Name(), start, true, "analytic store reachable")
}

// ZoneChecker probes the universal test point against every zone. Zones
// that do not report it listed are named in the message; this check is
// advisory because blocklists drop the test entry from time to time.
type ZoneChecker struct {
	Prober *probe.Prober
	Zones  []types.Zone
}

func (c *ZoneChecker) Name() string { return "zones" }

func (c *ZoneChecker) Check(ctx context.Context) Result {
	start := time.Now()
	var degraded []string
	for _, zone := range c.Zones {
		outcome := c.Prober.Check(ctx, testPointIP, zone.DNS)
		if outcome.Result != types.ResultListed {
			degraded = append(degraded, zone.DNS+"="+string(outcome.Result))
		}
	}
	if len(degraded) > 0 {
		return result(c.Name(), start, false,
			"test point not listed on: %s", strings.Join(degraded, " "))
	}
	return result(c.Name(), start, true, "all %d zones answering", len(c.Zones))
}
