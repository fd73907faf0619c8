// Package replication keeps replicas of the world converging on the single
// authoritative World: the Authority validates and sequences edits, the Hub
// fans records and bulk snapshots out to interested peers, and a Replica
// applies them in order on the receiving side.
package replication

// Config holds the replication tunables. Tick counts refer to Replica.Update calls.
type Config struct {
	MaxBuffered             int     `yaml:"max_buffered"`
	MaxGapTicks             int     `yaml:"max_gap_ticks"`
	SpeculativeTimeoutTicks int     `yaml:"speculative_timeout_ticks"`
	MaxDivergence           int     `yaml:"max_divergence"`
	AuditSize               int     `yaml:"audit_size"`
	Reach                   float64 `yaml:"reach"` // blocks; 0 disables the check
	TerritoryCell           int     `yaml:"territory_cell"`

	InterestRadius int `yaml:"interest_radius"` // chunks, horizontal
	VerticalRadius int `yaml:"vertical_radius"`
	OutboxSize     int `yaml:"outbox_size"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		MaxBuffered:             64,
		MaxGapTicks:             20,
		SpeculativeTimeoutTicks: 30,
		MaxDivergence:           8,
		AuditSize:               1024,
		Reach:                   8,
		TerritoryCell:           16,
		InterestRadius:          8,
		VerticalRadius:          1,
		OutboxSize:              256,
	}
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.MaxBuffered <= 0 {
		c.MaxBuffered = d.MaxBuffered
	}
	if c.MaxGapTicks <= 0 {
		c.MaxGapTicks = d.MaxGapTicks
	}
	if c.SpeculativeTimeoutTicks <= 0 {
		c.SpeculativeTimeoutTicks = d.SpeculativeTimeoutTicks
	}
	if c.MaxDivergence <= 0 {
		c.MaxDivergence = d.MaxDivergence
	}
	if c.AuditSize <= 0 {
		c.AuditSize = d.AuditSize
	}
	if c.Reach < 0 {
		c.Reach = 0
	}
	if c.TerritoryCell <= 0 {
		c.TerritoryCell = d.TerritoryCell
	}
	if c.InterestRadius <= 0 {
		c.InterestRadius = d.InterestRadius
	}
	if c.VerticalRadius < 0 {
		c.VerticalRadius = 0
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = d.OutboxSize
	}
	return c
}
