package main

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tradingfloor/engine"
	"tradingfloor/errs"
	"tradingfloor/privilege"
	"tradingfloor/scheduler"
	"tradingfloor/session"
)

// Prices cross the API as decimal currency ("50.25") and are held as
// integer hundredths inside the engine.
const priceScale = 2

// maxUnits bounds any amount accepted from the API, in hundredths.
const maxUnits = 1_000_000_000_000_000

func toUnits(field string, d decimal.Decimal) (int64, error) {
	shifted := d.Shift(priceScale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, errs.New(errs.InvalidRequest, "%s %s has more than %d decimal places", field, d, priceScale)
	}
	if shifted.Abs().GreaterThan(decimal.NewFromInt(maxUnits)) {
		return 0, errs.New(errs.InvalidRequest, "%s %s is out of range", field, d)
	}
	return shifted.IntPart(), nil
}

func fromUnits(v int64) decimal.Decimal {
	return decimal.New(v, -priceScale)
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

type lessonRequest struct {
	Name              string             `json:"name"`
	Symbols           []symbolRequest    `json:"symbols"`
	Settings          settingsRequest    `json:"settings"`
	Privileges        []privilegeRequest `json:"privileges"`
	EnabledOrderTypes []string           `json:"enabledOrderTypes"`
	OrderPrivileges   map[string]int     `json:"orderPrivileges"`
	MaxPosition       int64              `json:"maxPosition"`
	Agents            []agentRequest     `json:"agents"`
	TickIntervalMs    int                `json:"tickIntervalMs"`
	Commands          []commandRequest   `json:"commands"`
}

type symbolRequest struct {
	Symbol       string          `json:"symbol"`
	OpeningPrice decimal.Decimal `json:"openingPrice"`
	TickSize     decimal.Decimal `json:"tickSize"`
	MaxDepth     int             `json:"maxDepth"`
}

type settingsRequest struct {
	StartTick          int64 `json:"startTick"`
	MarketDelaySeconds int   `json:"marketDelaySeconds"`
	LoopOnClose        bool  `json:"loopOnClose"`
	LiquidateOnClose   bool  `json:"liquidateOnClose"`
}

type privilegeRequest struct {
	Code          int    `json:"code"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Prerequisites []int  `json:"prerequisites"`
	Excludes      []int  `json:"excludes"`
	MaxHolders    int    `json:"maxHolders"`
}

type agentRequest struct {
	Name         string          `json:"name"`
	Kind         string          `json:"kind"`
	Symbols      []string        `json:"symbols"`
	Active       bool            `json:"active"`
	MaxPosition  int64           `json:"maxPosition"`
	Spread       decimal.Decimal `json:"spread"`
	Size         int64           `json:"size"`
	MaxInventory int64           `json:"maxInventory"`
	Window       int             `json:"window"`
	ThresholdBps int64           `json:"thresholdBps"`
	Frequency    float64         `json:"frequency"`
	MaxSize      int64           `json:"maxSize"`
	Seed         int64           `json:"seed"`
}

// commandRequest is the flat wire form of every scheduled action; Type picks
// which fields apply.
type commandRequest struct {
	ID                string           `json:"id"`
	AtSeconds         float64          `json:"atSeconds"`
	Type              string           `json:"type"`
	TargetRole        string           `json:"targetRole"`
	MinParticipants   int              `json:"minParticipants"`
	RequireMarketOpen *bool            `json:"requireMarketOpen"`
	Code              int              `json:"code"`
	UserIDs           []string         `json:"userIds"`
	Symbols           []string         `json:"symbols"`
	Symbol            string           `json:"symbol"`
	DelaySeconds      float64          `json:"delaySeconds"`
	MinBid            decimal.Decimal  `json:"minBid"`
	DurationSeconds   float64          `json:"durationSeconds"`
	Agent             string           `json:"agent"`
	Active            bool             `json:"active"`
	Price             decimal.Decimal  `json:"price"`
	Headline          string           `json:"headline"`
	Body              string           `json:"body"`
	ImpactBps         int64            `json:"impactBps"`
	Name              string           `json:"name"`
	Commands          []commandRequest `json:"commands"`
	EndCommands       []commandRequest `json:"endCommands"`
}

func parseKind(value string) (engine.OrderKind, error) {
	switch strings.ToLower(value) {
	case "limit", "lmt":
		return engine.Limit, nil
	case "market", "mkt":
		return engine.Market, nil
	default:
		return 0, errs.New(errs.InvalidRequest, "unknown order type %s", value)
	}
}

func parseSide(value string) (engine.Side, error) {
	switch strings.ToLower(value) {
	case "buy", "bid", "b":
		return engine.Buy, nil
	case "sell", "ask", "s":
		return engine.Sell, nil
	default:
		return 0, errs.New(errs.InvalidRequest, "unknown side %s", value)
	}
}

func (req lessonRequest) toLesson() (session.Lesson, error) {
	lesson := session.Lesson{
		Name:        req.Name,
		MaxPosition: req.MaxPosition,
		Settings: session.MarketSettings{
			StartTick:          req.Settings.StartTick,
			MarketDelaySeconds: req.Settings.MarketDelaySeconds,
			LoopOnClose:        req.Settings.LoopOnClose,
			LiquidateOnClose:   req.Settings.LiquidateOnClose,
		},
		TickInterval: time.Duration(req.TickIntervalMs) * time.Millisecond,
	}
	for _, sym := range req.Symbols {
		open, err := toUnits("openingPrice", sym.OpeningPrice)
		if err != nil {
			return lesson, err
		}
		tick, err := toUnits("tickSize", sym.TickSize)
		if err != nil {
			return lesson, err
		}
		lesson.Symbols = append(lesson.Symbols, session.SymbolConfig{
			Symbol:       sym.Symbol,
			OpeningPrice: open,
			TickSize:     tick,
			MaxDepth:     sym.MaxDepth,
		})
	}
	for _, p := range req.Privileges {
		lesson.Privileges = append(lesson.Privileges, privilege.Definition{
			Code:          p.Code,
			Name:          p.Name,
			Description:   p.Description,
			Prerequisites: p.Prerequisites,
			Excludes:      p.Excludes,
			MaxHolders:    p.MaxHolders,
		})
	}
	for _, t := range req.EnabledOrderTypes {
		k, err := parseKind(t)
		if err != nil {
			return lesson, err
		}
		lesson.EnabledKinds = append(lesson.EnabledKinds, k)
	}
	if len(req.OrderPrivileges) > 0 {
		lesson.OrderPrivileges = make(map[engine.OrderKind]int, len(req.OrderPrivileges))
		for t, code := range req.OrderPrivileges {
			k, err := parseKind(t)
			if err != nil {
				return lesson, err
			}
			lesson.OrderPrivileges[k] = code
		}
	}
	for _, a := range req.Agents {
		spread, err := toUnits("spread", a.Spread)
		if err != nil {
			return lesson, err
		}
		lesson.Agents = append(lesson.Agents, session.AgentConfig{
			Name:         a.Name,
			Kind:         session.AgentKind(strings.ToLower(a.Kind)),
			Symbols:      a.Symbols,
			Active:       a.Active,
			MaxPosition:  a.MaxPosition,
			Spread:       spread,
			Size:         a.Size,
			MaxInventory: a.MaxInventory,
			Window:       a.Window,
			ThresholdBps: a.ThresholdBps,
			Frequency:    a.Frequency,
			MaxSize:      a.MaxSize,
			Seed:         a.Seed,
		})
	}
	cmds, err := toCommands(req.Commands)
	if err != nil {
		return lesson, err
	}
	lesson.Commands = cmds
	return lesson, nil
}

func toCommands(reqs []commandRequest) ([]scheduler.Command, error) {
	var out []scheduler.Command
	for _, r := range reqs {
		c, err := r.toCommand()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r commandRequest) toCommand() (scheduler.Command, error) {
	cmd := scheduler.Command{
		ID:                r.ID,
		Offset:            seconds(r.AtSeconds),
		MinParticipants:   r.MinParticipants,
		RequireMarketOpen: r.RequireMarketOpen,
	}
	if r.TargetRole != "" {
		role, err := session.ParseRole(r.TargetRole)
		if err != nil {
			return cmd, errs.Wrap(errs.InvalidRequest, err, "command %s", r.ID)
		}
		cmd.TargetRole = string(role)
	}

	switch strings.ToUpper(r.Type) {
	case "GRANT_PRIVILEGE":
		cmd.Action = scheduler.GrantPrivilege{Code: r.Code, UserIDs: r.UserIDs}
	case "REVOKE_PRIVILEGE":
		cmd.Action = scheduler.RevokePrivilege{Code: r.Code, UserIDs: r.UserIDs}
	case "OPEN_MARKET":
		cmd.Action = scheduler.OpenMarket{Symbols: r.Symbols, Delay: seconds(r.DelaySeconds)}
	case "CLOSE_MARKET":
		cmd.Action = scheduler.CloseMarket{Symbols: r.Symbols, Delay: seconds(r.DelaySeconds)}
	case "CREATE_AUCTION":
		minBid, err := toUnits("minBid", r.MinBid)
		if err != nil {
			return cmd, err
		}
		cmd.Action = scheduler.CreateAuction{Code: r.Code, MinBid: minBid, Duration: seconds(r.DurationSeconds)}
	case "TOGGLE_AGENT":
		cmd.Action = scheduler.ToggleAgent{Name: r.Agent, Active: r.Active, Delay: seconds(r.DelaySeconds)}
	case "INJECT_PRICE":
		price, err := toUnits("price", r.Price)
		if err != nil {
			return cmd, err
		}
		cmd.Action = scheduler.InjectPrice{Symbol: r.Symbol, Price: price}
	case "INJECT_NEWS":
		cmd.Action = scheduler.InjectNews{Headline: r.Headline, Body: r.Body, Symbol: r.Symbol, ImpactBps: r.ImpactBps}
	case "START_SCENARIO":
		children, err := toCommands(r.Commands)
		if err != nil {
			return cmd, err
		}
		ends, err := toCommands(r.EndCommands)
		if err != nil {
			return cmd, err
		}
		cmd.Action = scheduler.StartScenario{Name: r.Name, Duration: seconds(r.DurationSeconds), Commands: children, EndCommands: ends}
	default:
		return cmd, errs.New(errs.InvalidRequest, "command %s has unknown type %q", r.ID, r.Type)
	}
	return cmd, nil
}
