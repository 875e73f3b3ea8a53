package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/blwatch/blwatch/pkg/metrics"
	"github.com/blwatch/blwatch/pkg/types"
)

// attemptTimeout bounds a single DNS round trip; the prober performs no
// retries, so it is also the overall deadline.
const attemptTimeout = 5 * time.Second

// Outcome is the terminal classification of one DNSBL probe.
type Outcome struct {
	Result  types.ProbeResult
	Status  types.TaskStatus
	Details string
	Latency time.Duration
}

// Exchanger performs a single DNS round trip. The production implementation
// queries the configured resolvers; tests script responses.
type Exchanger interface {
	Exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error)
}

// Prober answers "is this IP listed on this zone" by reverse-IP DNS lookup.
// It is stateless and safe for concurrent use; callers bound concurrency.
type Prober struct {
	exchanger Exchanger
}

// NewProber creates a prober that queries the given resolver addresses
// (host:port). With no addresses it reads the system resolver configuration.
func NewProber(resolvers []string) (*Prober, error) {
	if len(resolvers) == 0 {
		cc, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil {
			return nil, fmt.Errorf("failed to load resolver config: %w", err)
		}
		for _, s := range cc.Servers {
			resolvers = append(resolvers, net.JoinHostPort(s, cc.Port))
		}
	}
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("no DNS resolvers available")
	}
	return &Prober{exchanger: &clientExchanger{
		client:    &dns.Client{Timeout: attemptTimeout},
		resolvers: resolvers,
	}}, nil
}

// NewProberWithExchanger wires a custom exchanger.
func NewProberWithExchanger(e Exchanger) *Prober {
	return &Prober{exchanger: e}
}

// QueryName builds the DNSBL query name: reversed dotted-quad octets with
// the zone suffix appended (1.2.3.4 + zen.example -> 4.3.2.1.zen.example).
func QueryName(ip, zone string) string {
	octets := strings.Split(ip, ".")
	for i, j := 0, len(octets)-1; i < j; i, j = i+1, j-1 {
		octets[i], octets[j] = octets[j], octets[i]
	}
	return strings.Join(octets, ".") + "." + strings.TrimSuffix(zone, ".")
}

// Check probes (ip, zone) and classifies the outcome. Every outcome is
// terminal; the prober never retries and never returns an error.
func (p *Prober) Check(ctx context.Context, ip, zone string) Outcome {
	start := time.Now()
	done := func(result types.ProbeResult, details string) Outcome {
		latency := time.Since(start)
		metrics.ProbesTotal.WithLabelValues(string(result)).Inc()
		metrics.ProbeDuration.Observe(latency.Seconds())
		return Outcome{
			Result:  result,
			Status:  types.TaskStatusCompleted,
			Details: details,
			Latency: latency,
		}
	}
	ms := func() float64 { return float64(time.Since(start).Microseconds()) / 1000 }

	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return done(types.ResultInvalidIP, fmt.Sprintf("invalid IP: %s", ip))
	}

	name := dns.Fqdn(QueryName(ip, zone))

	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)

	resp, err := p.exchanger.Exchange(ctx, m)
	if err != nil {
		if isTimeout(err) {
			return done(types.ResultTimedOut, fmt.Sprintf("query timed out in %.3f ms", ms()))
		}
		return done(types.ResultDNSError, fmt.Sprintf("dns error in %.3f ms: %v", ms(), err))
	}

	switch resp.Rcode {
	case dns.RcodeNameError:
		return done(types.ResultNotListed, fmt.Sprintf("query completed in %.3f ms", ms()))
	case dns.RcodeServerFailure:
		return done(types.ResultNoNameservers, fmt.Sprintf("no nameservers in %.3f ms", ms()))
	case dns.RcodeSuccess:
		// fall through to answer inspection
	default:
		return done(types.ResultDNSError,
			fmt.Sprintf("dns error in %.3f ms: rcode %s", ms(), dns.RcodeToString[resp.Rcode]))
	}

	var listed []string
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			listed = append(listed, a.A.String())
		}
	}
	if len(listed) == 0 {
		return done(types.ResultNoAnswer, fmt.Sprintf("no answer in %.3f ms", ms()))
	}

	// Listed addresses carry an explanatory TXT record on most blocklists;
	// fetch it best-effort for the details column.
	txt := p.lookupTXT(ctx, name)
	return done(types.ResultListed, fmt.Sprintf("%s: %s (%.3f ms)", listed[0], txt, ms()))
}

func (p *Prober) lookupTXT(ctx context.Context, name string) string {
	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeTXT)
	resp, err := p.exchanger.Exchange(ctx, m)
	if err != nil || resp.Rcode != dns.RcodeSuccess {
		return "-"
	}
	for _, rr := range resp.Answer {
		if t, ok := rr.(*dns.TXT); ok && len(t.Txt) > 0 {
			return strings.Join(t.Txt, " ")
		}
	}
	return "-"
}

func isTimeout(err error) bool {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(err.Error(), "i/o timeout")
}

// clientExchanger queries the configured resolvers in order until one
// responds.
type clientExchanger struct {
	client    *dns.Client
	resolvers []string
}

func (c *clientExchanger) Exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	var lastErr error
	for _, server := range c.resolvers {
		resp, _, err := c.client.ExchangeContext(ctx, msg, server)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if isTimeout(err) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
