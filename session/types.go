package session

import (
	"fmt"
	"strings"
	"time"

	"tradingfloor/auction"
	"tradingfloor/engine"
	"tradingfloor/privilege"
	"tradingfloor/scheduler"
)

// Status is the lifecycle state of a session.
type Status int

const (
	Pending Status = iota
	InProgress
	Paused
	Completed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case InProgress:
		return "IN_PROGRESS"
	case Paused:
		return "PAUSED"
	case Completed:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// Role is a participant's classroom role.
type Role string

const (
	Student    Role = "STUDENT"
	Instructor Role = "INSTRUCTOR"
	Admin      Role = "ADMIN"
)

// ParseRole accepts any casing of a known role.
func ParseRole(v string) (Role, error) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(v))); r {
	case Student, Instructor, Admin:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", v)
	}
}

// Participant is a human in the session.
type Participant struct {
	UserID     string
	Role       Role
	Privileges privilege.Set
	Connected  bool
	Position   map[string]int64
	JoinedAt   time.Time
}

func (p *Participant) clone() Participant {
	out := *p
	out.Privileges = p.Privileges.Clone()
	out.Position = make(map[string]int64, len(p.Position))
	for k, v := range p.Position {
		out.Position[k] = v
	}
	return out
}

// SymbolConfig describes one tradable instrument.
type SymbolConfig struct {
	Symbol       string
	OpeningPrice int64
	TickSize     int64
	MaxDepth     int
}

// MarketSettings control automatic market opening and closing.
type MarketSettings struct {
	StartTick          int64
	MarketDelaySeconds int
	LoopOnClose        bool
	LiquidateOnClose   bool
}

func (m MarketSettings) delay() time.Duration {
	return time.Duration(m.MarketDelaySeconds) * time.Second
}

// AgentKind selects a liquidity agent implementation.
type AgentKind string

const (
	MarketMakerAgent   AgentKind = "market_maker"
	MomentumAgent      AgentKind = "momentum"
	MeanReversionAgent AgentKind = "mean_reversion"
	NoiseAgent         AgentKind = "noise"
)

// AgentConfig configures one liquidity agent.
type AgentConfig struct {
	Name         string
	Kind         AgentKind
	Symbols      []string // empty means every lesson symbol
	Active       bool
	MaxPosition  int64
	Spread       int64
	Size         int64
	MaxInventory int64
	Window       int
	ThresholdBps int64
	Frequency    float64
	MaxSize      int64
	Seed         int64
}

// Lesson is everything a session is created from.
type Lesson struct {
	Name            string
	Symbols         []SymbolConfig
	Commands        []scheduler.Command
	Settings        MarketSettings
	Privileges      []privilege.Definition
	EnabledKinds    []engine.OrderKind // empty enables every kind
	OrderPrivileges map[engine.OrderKind]int
	MaxPosition     int64 // per symbol, humans; zero disables
	Agents          []AgentConfig
	TickInterval    time.Duration
}

// OrderRequest is a human order submission.
type OrderRequest struct {
	OrderID  string
	UserID   string
	Symbol   string
	Side     engine.Side
	Kind     engine.OrderKind
	Price    int64
	Quantity int64
}

// Snapshot is a read-only view of a session for the API.
type Snapshot struct {
	ID               string
	Name             string
	Status           Status
	StartTime        time.Time
	Elapsed          time.Duration
	CurrentTick      int64
	MarketOpen       map[string]bool
	Participants     []Participant
	Auctions         []auction.Auction
	Stats            []engine.Stats
	Agents           []AgentState
	ExecutedCommands []string
	PendingCommands  int
	LastEventSeq     int64
}

// AgentState reports an agent's switch and running PnL.
type AgentState struct {
	Name     string
	Active   bool
	Position int64
	Cash     int64
}
