package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	"go.uber.org/zap"

	"tradingfloor/engine"
	"tradingfloor/session"
)

func main() {
	totalOrders := flag.Int("orders", 200000, "number of orders to submit")
	traders := flag.Int("traders", 20, "participants placing orders")
	priceLevels := flag.Int64("price-levels", 200, "unique price levels around the mid")
	tick := flag.Int64("tick", 1, "tick size for limit prices")
	basePrice := flag.Int64("base-price", 10000, "mid price used for randomization")
	symbol := flag.String("symbol", "SIM", "symbol to trade")
	maxDepth := flag.Int("max-depth", 2048, "maximum resting depth")
	cancelEvery := flag.Int("cancel-every", 0, "cancel a random earlier order every N submissions")
	agents := flag.Bool("agents", false, "run a market maker and noise trader alongside the load")
	eventBuffer := flag.Int("event-buffer", 4096, "event dispatcher queue length")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for deterministic random streams")
	cpuProfile := flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile := flag.String("memprofile", "", "write heap profile to file")
	marketRatio := flag.Int("market-ratio", 5, "1 in N orders will be market instead of limit")
	verbose := flag.Bool("v", false, "log session activity")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer func() { _ = logger.Sync() }()

	rng := rand.New(rand.NewSource(*seed))

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			logger.Fatal("create cpu profile", zap.Error(err))
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.Fatal("start cpu profile", zap.Error(err))
		}
		defer pprof.StopCPUProfile()
	}

	lesson := session.Lesson{
		Name:    "loadgen",
		Symbols: []session.SymbolConfig{{Symbol: *symbol, OpeningPrice: *basePrice, TickSize: *tick, MaxDepth: *maxDepth}},
	}
	if *agents {
		lesson.Agents = []session.AgentConfig{
			{Name: "mm", Kind: session.MarketMakerAgent, Active: true, Spread: 4 * *tick, Size: 10, MaxInventory: 500},
			{Name: "noise", Kind: session.NoiseAgent, Active: true, Frequency: 0.5, MaxSize: 5, Seed: *seed},
		}
	}
	sess, err := session.New(lesson, session.Options{Logger: logger, EventBuffer: *eventBuffer, TickInterval: 100 * time.Millisecond})
	if err != nil {
		logger.Fatal("create session", zap.Error(err))
	}
	defer sess.Close()

	users := make([]string, *traders)
	for i := range users {
		users[i] = "trader-" + strconv.Itoa(i)
		if _, err := sess.Join(users[i], session.Student); err != nil {
			logger.Fatal("join", zap.String("user", users[i]), zap.Error(err))
		}
	}
	if err := sess.Start(); err != nil {
		logger.Fatal("start", zap.Error(err))
	}

	var trades, rejected int64
	start := time.Now()
	for i := 0; i < *totalOrders; i++ {
		req := nextRandomOrder(rng, i, users[i%len(users)], *symbol, *basePrice, *priceLevels, *tick, *marketRatio)
		res, err := sess.SubmitOrder(req)
		if err != nil {
			rejected++
			logger.Debug("submit failed", zap.Error(err))
			continue
		}
		trades += int64(len(res.Trades))
		if *cancelEvery > 0 && i > 0 && i%*cancelEvery == 0 {
			target := rng.Intn(i)
			_, _ = sess.CancelOrder(users[target%len(users)], "lg-"+strconv.Itoa(target))
		}
	}
	elapsed := time.Since(start)

	snap, err := sess.Snapshot()
	if err != nil {
		logger.Fatal("snapshot", zap.Error(err))
	}
	if err := sess.End(); err != nil {
		logger.Warn("end", zap.Error(err))
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err == nil {
			defer f.Close()
			_ = pprof.WriteHeapProfile(f)
		}
	}

	ordersPerSec := float64(*totalOrders) / elapsed.Seconds()
	tradesPerSec := float64(trades) / elapsed.Seconds()

	fmt.Printf("submitted %d orders in %s (%.0f orders/s, %d rejected)\n", *totalOrders, elapsed.Truncate(time.Millisecond), ordersPerSec, rejected)
	fmt.Printf("matched %d trades (%.0f trades/s), %d events logged\n", trades, tradesPerSec, snap.LastEventSeq)
	fmt.Printf("config: traders=%d depth=%d agents=%t market-ratio=1/%d\n", *traders, *maxDepth, *agents, *marketRatio)
}

func nextRandomOrder(rng *rand.Rand, id int, user, symbol string, mid, width, tick int64, marketRatio int) session.OrderRequest {
	side := engine.Side(rng.Intn(2))
	var price int64
	if side == engine.Buy {
		price = mid + rng.Int63n(width)*tick
	} else {
		offset := rng.Int63n(width) * tick
		if mid > offset {
			price = mid - offset
		} else {
			price = tick
		}
	}

	kind := engine.Limit
	if marketRatio > 0 && rng.Intn(marketRatio) == 0 {
		kind = engine.Market
		price = 0
	}

	return session.OrderRequest{
		OrderID:  "lg-" + strconv.Itoa(id),
		UserID:   user,
		Symbol:   symbol,
		Side:     side,
		Kind:     kind,
		Price:    price,
		Quantity: rng.Int63n(5) + 1,
	}
}
