package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradingfloor/scheduler"
	"tradingfloor/session"
)

const lessonJSON = `{
	"name": "intro",
	"symbols": [{"symbol": "ACME", "openingPrice": "50.00", "tickSize": "0.01"}],
	"privileges": [{"code": 1, "name": "market-orders"}],
	"orderPrivileges": {"market": 1},
	"commands": [{"id": "grant", "atSeconds": 3600, "type": "GRANT_PRIVILEGE", "code": 1}]
}`

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	reg := session.NewRegistry(session.Options{Logger: zap.NewNop(), TickInterval: time.Hour})
	ts := httptest.NewServer(newServer(reg, token, "*", zap.NewNop()).routes())
	t.Cleanup(func() {
		ts.Close()
		reg.Shutdown()
	})
	return ts
}

func call(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != "" {
		rd = bytes.NewReader([]byte(body))
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func createSession(t *testing.T, base string) string {
	t.Helper()
	code, body := call(t, http.MethodPost, base+"/sessions", lessonJSON)
	if code != http.StatusCreated {
		t.Fatalf("create: %d %v", code, body)
	}
	if body["status"] != "PENDING" {
		t.Fatalf("new session should be pending: %v", body)
	}
	return body["id"].(string)
}

func TestOrderFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t, "")
	id := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + id

	order := `{"userId":"alice","symbol":"ACME","side":"buy","type":"limit","price":"49.5","quantity":10}`
	if code, body := call(t, http.MethodPost, base+"/orders", order); code != http.StatusConflict || body["code"] != "SessionNotActive" {
		t.Fatalf("expected 409 SessionNotActive before start, got %d %v", code, body)
	}

	for _, u := range []string{"alice", "bob"} {
		if code, body := call(t, http.MethodPost, base+"/participants", `{"userId":"`+u+`"}`); code != http.StatusOK {
			t.Fatalf("join %s: %d %v", u, code, body)
		}
	}
	if code, body := call(t, http.MethodPost, base+"/start", ""); code != http.StatusOK || body["status"] != "IN_PROGRESS" {
		t.Fatalf("start: %d %v", code, body)
	}

	market := `{"userId":"alice","symbol":"ACME","side":"buy","type":"market","quantity":10}`
	if code, body := call(t, http.MethodPost, base+"/orders", market); code != http.StatusForbidden || body["code"] != "PrivilegeRequired" {
		t.Fatalf("expected 403 PrivilegeRequired, got %d %v", code, body)
	}
	if code, body := call(t, http.MethodPost, base+"/commands/grant/trigger", ""); code != http.StatusOK || body["fired"] != true {
		t.Fatalf("trigger: %d %v", code, body)
	}
	code, body := call(t, http.MethodPost, base+"/orders", market)
	if code != http.StatusCreated {
		t.Fatalf("market order: %d %v", code, body)
	}
	if body["order"].(map[string]any)["status"] != "PENDING" {
		t.Fatalf("market order should rest: %v", body)
	}

	sell := `{"userId":"bob","symbol":"ACME","side":"sell","type":"limit","price":"50.25","quantity":10}`
	code, body = call(t, http.MethodPost, base+"/orders", sell)
	if code != http.StatusCreated {
		t.Fatalf("sell: %d %v", code, body)
	}
	trades := body["trades"].([]any)
	if len(trades) != 1 || trades[0].(map[string]any)["price"] != "50.25" {
		t.Fatalf("expected a fill at 50.25, got %v", trades)
	}

	code, body = call(t, http.MethodGet, base+"/books/ACME", "")
	if code != http.StatusOK || body["stats"].(map[string]any)["last"] != "50.25" {
		t.Fatalf("book: %d %v", code, body)
	}

	bad := `{"userId":"bob","symbol":"ACME","side":"sell","type":"limit","price":"50.251","quantity":1}`
	if code, body := call(t, http.MethodPost, base+"/orders", bad); code != http.StatusBadRequest {
		t.Fatalf("sub-cent price should be rejected, got %d %v", code, body)
	}
	huge := `{"userId":"bob","symbol":"ACME","side":"sell","type":"limit","price":"1e30","quantity":1}`
	if code, body := call(t, http.MethodPost, base+"/orders", huge); code != http.StatusBadRequest {
		t.Fatalf("out of range price should be rejected, got %d %v", code, body)
	}
}

func TestAuctionAndEndOverHTTP(t *testing.T) {
	ts := newTestServer(t, "")
	id := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + id
	call(t, http.MethodPost, base+"/participants", `{"userId":"alice"}`)
	call(t, http.MethodPost, base+"/start", "")

	code, body := call(t, http.MethodPost, base+"/auctions", `{"code":1,"minBid":"10","durationSeconds":60}`)
	if code != http.StatusCreated {
		t.Fatalf("create auction: %d %v", code, body)
	}
	auctionID := body["id"].(string)
	if code, body := call(t, http.MethodPost, base+"/auctions/"+auctionID+"/bids", `{"userId":"alice","amount":"5"}`); code != http.StatusBadRequest || body["code"] != "BidTooLow" {
		t.Fatalf("expected BidTooLow, got %d %v", code, body)
	}
	if code, body := call(t, http.MethodPost, base+"/auctions/"+auctionID+"/bids", `{"userId":"alice","amount":"12.50"}`); code != http.StatusOK {
		t.Fatalf("bid: %d %v", code, body)
	}

	code, body = call(t, http.MethodPost, base+"/end", "")
	if code != http.StatusOK || body["status"] != "COMPLETED" {
		t.Fatalf("end: %d %v", code, body)
	}
	auctions := body["auctions"].([]any)
	if len(auctions) != 1 || auctions[0].(map[string]any)["status"] != "CANCELLED" {
		t.Fatalf("open auction should be cancelled at end: %v", auctions)
	}
	if code, body := call(t, http.MethodGet, base, ""); code != http.StatusOK || body["status"] != "COMPLETED" {
		t.Fatalf("archived snapshot: %d %v", code, body)
	}
	if code, _ := call(t, http.MethodPost, base+"/start", ""); code != http.StatusNotFound {
		t.Fatalf("ended session should be gone, got %d", code)
	}
}

func TestAuthAndCORS(t *testing.T) {
	ts := newTestServer(t, "secret")
	if code, _ := call(t, http.MethodGet, ts.URL+"/sessions", ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code, _ := call(t, http.MethodGet, ts.URL+"/sessions?token=secret", ""); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/sessions", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight: %d %v", resp.StatusCode, resp.Header)
	}
}

func TestEventStreamReplaysThenFollows(t *testing.T) {
	ts := newTestServer(t, "")
	id := createSession(t, ts.URL)
	base := ts.URL + "/sessions/" + id
	call(t, http.MethodPost, base+"/participants", `{"userId":"alice"}`)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + id + "/events?since=0"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg struct {
		Type string `json:"type"`
		Data struct {
			Seq  int64  `json:"seq"`
			Kind string `json:"kind"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if msg.Data.Seq != 1 || msg.Data.Kind != "participant_joined" {
		t.Fatalf("unexpected replayed event %+v", msg)
	}

	call(t, http.MethodPost, base+"/start", "")
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read live: %v", err)
	}
	if msg.Data.Seq != 2 || msg.Data.Kind != "session_status" {
		t.Fatalf("unexpected live event %+v", msg)
	}
}

func TestLessonCommandsConvert(t *testing.T) {
	req := commandRequest{
		ID: "crash", AtSeconds: 30, Type: "start_scenario", Name: "crash", DurationSeconds: 60,
		Commands:    []commandRequest{{ID: "drop", AtSeconds: 5, Type: "INJECT_PRICE", Symbol: "ACME", Price: decimal.RequireFromString("42.10")}},
		EndCommands: []commandRequest{{ID: "calm", Type: "INJECT_NEWS", Headline: "calm"}},
	}
	cmd, err := req.toCommand()
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	sc, ok := cmd.Action.(scheduler.StartScenario)
	if !ok || cmd.Offset != 30*time.Second || sc.Duration != time.Minute {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if p := sc.Commands[0].Action.(scheduler.InjectPrice); p.Price != 4210 {
		t.Fatalf("price should convert to hundredths, got %d", p.Price)
	}
	if _, err := (commandRequest{ID: "x", Type: "LAUNCH_ROCKET"}).toCommand(); err == nil {
		t.Fatalf("unknown command type should fail")
	}
	if _, err := (commandRequest{ID: "x", Type: "GRANT_PRIVILEGE", TargetRole: "janitor"}).toCommand(); err == nil {
		t.Fatalf("unknown role should fail")
	}
}

func TestToUnitsBoundsAndScale(t *testing.T) {
	cases := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"50.25", 5025, true},
		{"-1.5", -150, true},
		{"10000000000000", 1_000_000_000_000_000, true},
		{"10000000000000.01", 0, false},
		{"1e30", 0, false},
		{"0.001", 0, false},
	}
	for _, tc := range cases {
		got, err := toUnits("price", decimal.RequireFromString(tc.in))
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("toUnits(%s) = %d, %v; want %d ok=%t", tc.in, got, err, tc.want, tc.ok)
		}
	}
}
