package types

import "time"

// TaskStatus represents the lifecycle state of a task in the ledger
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// ProbeResult is the terminal outcome of a single DNSBL probe.
// A task is pending exactly while its result is unset.
type ProbeResult string

const (
	ResultNotListed     ProbeResult = "not_listed"
	ResultListed        ProbeResult = "listed"
	ResultTimedOut      ProbeResult = "timed_out"
	ResultNoAnswer      ProbeResult = "no_answer"
	ResultNoNameservers ProbeResult = "no_nameservers"
	ResultDNSError      ProbeResult = "dns_error"
	ResultInvalidIP     ProbeResult = "invalid_ip"
	ResultException     ProbeResult = "exception"
)

// Results lists every terminal result, in display order.
var Results = []ProbeResult{
	ResultNotListed,
	ResultListed,
	ResultTimedOut,
	ResultNoAnswer,
	ResultNoNameservers,
	ResultDNSError,
	ResultInvalidIP,
	ResultException,
}

// Zone is a blocklist identity. The zone set is fixed at process start.
type Zone struct {
	Name          string `yaml:"name" json:"name"`
	DNS           string `yaml:"dns" json:"dns"`
	RemovalLink   string `yaml:"removal_link,omitempty" json:"removal_link,omitempty"`
	RemovalMethod string `yaml:"removal_method,omitempty" json:"removal_method,omitempty"`
}

// Seed identifies a unit of work before it has a ledger row.
type Seed struct {
	IP   string
	Zone Zone
}

// Task is a ledger row: one (ip, zone, day) check and its state.
type Task struct {
	ID          int64        `db:"id"`
	IPAddress   string       `db:"ip_address"`
	DNS         string       `db:"dns"`
	Status      TaskStatus   `db:"status"`
	Result      *ProbeResult `db:"result"`
	Details     *string      `db:"details"`
	CheckDate   string       `db:"check_date"`
	LastUpdated time.Time    `db:"last_updated"`
}

// Key returns the (ip, dns) pair that identifies the task within a day.
func (t Task) Key() TaskKey {
	return TaskKey{IP: t.IPAddress, DNS: t.DNS}
}

// TaskKey is the per-day uniqueness key of a task.
type TaskKey struct {
	IP  string
	DNS string
}

// TaskUpdate carries one probe outcome back to the ledger.
type TaskUpdate struct {
	IP      string
	DNS     string
	Status  TaskStatus
	Result  ProbeResult
	Details string
}

// QueueMessage is the wire form of a task on the broker. Consumers only
// read ip and dns; the remaining fields travel for operator tooling.
type QueueMessage struct {
	IP            string `json:"ip"`
	DNS           string `json:"dns"`
	Name          string `json:"name,omitempty"`
	RemovalLink   string `json:"removal_link,omitempty"`
	RemovalMethod string `json:"removal_method,omitempty"`
}

// Message builds the queue message for a seed.
func (s Seed) Message() QueueMessage {
	return QueueMessage{
		IP:            s.IP,
		DNS:           s.Zone.DNS,
		Name:          s.Zone.Name,
		RemovalLink:   s.Zone.RemovalLink,
		RemovalMethod: s.Zone.RemovalMethod,
	}
}

// DateFormat is the calendar-date layout used for check_date everywhere.
const DateFormat = "2006-01-02"

// Today returns the current local calendar date in DateFormat.
func Today() string {
	return time.Now().Format(DateFormat)
}
