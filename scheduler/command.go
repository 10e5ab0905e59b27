package scheduler

import "time"

// Action is the typed payload of a scheduled command. Each variant carries
// exactly the parameters its handler needs.
type Action interface {
	Type() string
	action()
}

// GrantPrivilege adds a privilege code to the listed users, or to every
// participant matching the command's role filter when UserIDs is empty.
type GrantPrivilege struct {
	Code    int
	UserIDs []string
}

// RevokePrivilege removes a privilege code, selected the same way as GrantPrivilege.
type RevokePrivilege struct {
	Code    int
	UserIDs []string
}

// OpenMarket opens trading in the listed symbols (all symbols when empty),
// optionally after a delay.
type OpenMarket struct {
	Symbols []string
	Delay   time.Duration
}

// CloseMarket closes trading in the listed symbols, optionally after a delay.
type CloseMarket struct {
	Symbols []string
	Delay   time.Duration
}

// CreateAuction starts a timed auction for a privilege code.
type CreateAuction struct {
	Code     int
	MinBid   int64
	Duration time.Duration
}

// ToggleAgent switches a named liquidity agent on or off, optionally after a delay.
type ToggleAgent struct {
	Name   string
	Active bool
	Delay  time.Duration
}

// InjectPrice moves a symbol's reference price.
type InjectPrice struct {
	Symbol string
	Price  int64
}

// InjectNews broadcasts a headline, optionally moving the symbol's price by
// ImpactBps basis points.
type InjectNews struct {
	Headline  string
	Body      string
	Symbol    string
	ImpactBps int64
}

// StartScenario begins a nested command list. Child offsets are relative to
// the moment the scenario starts; EndCommands fire once Duration has elapsed.
type StartScenario struct {
	Name        string
	Duration    time.Duration
	Commands    []Command
	EndCommands []Command
}

func (GrantPrivilege) Type() string  { return "GRANT_PRIVILEGE" }
func (RevokePrivilege) Type() string { return "REVOKE_PRIVILEGE" }
func (OpenMarket) Type() string      { return "OPEN_MARKET" }
func (CloseMarket) Type() string     { return "CLOSE_MARKET" }
func (CreateAuction) Type() string   { return "CREATE_AUCTION" }
func (ToggleAgent) Type() string     { return "TOGGLE_AGENT" }
func (InjectPrice) Type() string     { return "INJECT_PRICE" }
func (InjectNews) Type() string      { return "INJECT_NEWS" }
func (StartScenario) Type() string   { return "START_SCENARIO" }

func (GrantPrivilege) action()  {}
func (RevokePrivilege) action() {}
func (OpenMarket) action()      {}
func (CloseMarket) action()     {}
func (CreateAuction) action()   {}
func (ToggleAgent) action()     {}
func (InjectPrice) action()     {}
func (InjectNews) action()      {}
func (StartScenario) action()   {}

// Command is one line of a lesson timeline. It is never mutated after loading.
type Command struct {
	ID                string
	Offset            time.Duration
	Action            Action
	TargetRole        string // empty matches every role
	MinParticipants   int
	RequireMarketOpen *bool
}

// expand derives the commands a started scenario contributes to the timeline.
// Offsets count from start, the elapsed time at which the scenario began.
func expand(parent Command, start time.Duration) []Command {
	sc, ok := parent.Action.(StartScenario)
	if !ok {
		return nil
	}
	out := make([]Command, 0, len(sc.Commands)+len(sc.EndCommands))
	for _, c := range sc.Commands {
		c.ID = parent.ID + "/" + c.ID
		c.Offset = start + c.Offset
		out = append(out, c)
	}
	for _, c := range sc.EndCommands {
		c.ID = parent.ID + "/end/" + c.ID
		c.Offset = start + sc.Duration
		out = append(out, c)
	}
	return out
}
