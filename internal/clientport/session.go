package clientport

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
	"golang.org/x/time/rate"

	"github.com/tradecore/engine/internal/algo"
	"github.com/tradecore/engine/internal/bus"
	"github.com/tradecore/engine/internal/connectivity"
	"github.com/tradecore/engine/internal/marketdata"
	"github.com/tradecore/engine/internal/orderbook"
	"github.com/tradecore/engine/internal/position"
	"github.com/tradecore/engine/internal/refdata"
	"github.com/tradecore/engine/internal/schema"
)

// subscription tracks refcounted interest plus the last snapshot sent,
// so the 1-second tick only publishes changed fields (spec §4.9).
type subscription struct {
	refcount int
	sent     schema.MarketData
}

// Session is one WebSocket connection's serial strand (spec §5 "Client
// port: one strand per connection"). All state below is only ever
// touched from readLoop and the publish ticker, both driven off the
// same underlying goroutine ordering via outbox posting — mutation of
// subs happens under mu because the ticker and readLoop run on
// separate goroutines.
type Session struct {
	conn *websocket.Conn
	deps Deps

	mu       sync.Mutex
	userID   uint32
	admin    bool
	loggedIn bool
	pnlOn    bool
	subs     map[uint32]*subscription

	outbox  *bus.Queue
	done    chan struct{}
	limiter *rate.Limiter
}

// Deps bundles every component a session proxies actions to.
type Deps struct {
	Cache        *refdata.Cache
	Hub          *marketdata.Hub
	Book         *orderbook.Book
	Positions    *position.Engine
	Connectivity *connectivity.Manager
	Algos        *algo.Manager
	JournalDir   string
	AlgoJournalDir string
	Shutdown     func()
}

func newSession(conn *websocket.Conn, deps Deps) *Session {
	return &Session{
		conn:    conn,
		deps:    deps,
		subs:    make(map[uint32]*subscription),
		outbox:  bus.NewQueue(256),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Serve runs the session until the connection closes. It owns three
// goroutines: the read loop, the write loop draining outbox, and the
// 1-second publish ticker.
func (s *Session) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writeLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		s.publishTicker(ctx)
	}()

	s.readLoop(ctx)
	cancel()
	s.outbox.Close()
	close(s.done)
	wg.Wait()
	s.conn.Close()
}

func (s *Session) readLoop(ctx context.Context) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if !s.limiter.Allow() {
			s.sendError("", "rate limit exceeded")
			continue
		}
		var in Inbound
		if err := json.Unmarshal(raw, &in); err != nil {
			s.sendError("", "malformed message")
			continue
		}
		s.dispatch(ctx, in)
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	s.outbox.Run(ctx, func(e bus.Event) {
		if err := s.conn.WriteMessage(websocket.TextMessage, e.Payload); err != nil {
			logs.Debugf("clientport: write failed: %+v", err)
		}
	})
}

// normalPriorityTags holds the outbound message tags where losing the
// oldest queued copy under backpressure is harmless: a market-data
// delta or P&L tick is superseded by the next tick regardless, so the
// outbox lets a slow reader fall behind on these rather than let them
// crowd out an execution report or algo status update, which are each
// a one-shot fact the client will never see again if dropped.
var normalPriorityTags = map[string]bool{
	"md":  true,
	"pnl": true,
	"Pnl": true,
}

func (s *Session) send(tag string, body any) {
	payload, err := json.Marshal(Outbound{Tag: tag, Body: body})
	if err != nil {
		logs.Errorf("clientport: marshal %s failed: %+v", tag, err)
		return
	}
	priority := bus.PriorityCritical
	if normalPriorityTags[tag] {
		priority = bus.PriorityNormal
	}
	if err := s.outbox.TryPublish(bus.Event{Payload: payload, Priority: priority}); err != nil {
		logs.Debugf("clientport: outbox drop for %s: %+v", tag, err)
	}
}

func (s *Session) sendError(action, text string) {
	s.send("error", errorBody{Action: action, Text: text})
}

func (s *Session) dispatch(ctx context.Context, in Inbound) {
	if in.Action != "login" && in.Action != "validate_user" && !s.isLoggedIn() {
		s.sendError(in.Action, "not logged in")
		return
	}
	switch in.Action {
	case "login":
		s.handleLogin(in)
	case "validate_user":
		s.handleValidateUser(in)
	case "reconnect":
		s.handleLogin(in)
	case "securities":
		s.handleSecurities()
	case "sub":
		s.handleSub(in)
	case "unsub":
		s.handleUnsub(in)
	case "order":
		s.handleOrder(in)
	case "cancel":
		s.handleCancel(in)
	case "algo":
		s.handleAlgo(in)
	case "algo cancel":
		s.handleAlgoCancel(in)
	case "offline":
		s.handleOffline(ctx, in)
	case "bod":
		s.handleBod()
	case "pnl":
		s.handlePnl()
	case "shutdown":
		s.handleShutdown()
	default:
		s.sendError(in.Action, fmt.Sprintf("unknown action %q", in.Action))
	}
}

func (s *Session) isLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *Session) handleLogin(in Inbound) {
	var p loginParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad login params")
		return
	}
	u, ok := s.deps.Cache.UserByName(p.Username)
	if !ok || u.Disabled {
		s.sendError(in.Action, "unknown user")
		return
	}
	sum := sha1.Sum([]byte(p.Password))
	if sum != u.PasswordHash {
		s.sendError(in.Action, "bad credentials")
		return
	}
	s.mu.Lock()
	s.userID = u.ID
	s.admin = u.Admin
	s.loggedIn = true
	s.mu.Unlock()
	s.send("connection", connectionBody{UserID: u.ID, Admin: u.Admin})
}

func (s *Session) handleValidateUser(in Inbound) {
	var p validateUserParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	if _, ok := s.deps.Cache.User(p.UserID); !ok {
		s.sendError(in.Action, "unknown user")
		return
	}
	s.send("connection", connectionBody{UserID: p.UserID})
}

func (s *Session) handleSecurities() {
	for _, sec := range s.deps.Cache.AllSecurities() {
		s.send("security", sec)
	}
	s.send("securities", struct{}{})
}

func (s *Session) handleSub(in Inbound) {
	var p subParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	sec, ok := s.deps.Cache.Security(p.SecurityID)
	if !ok {
		s.sendError(in.Action, "unknown security")
		return
	}
	s.mu.Lock()
	sub, exists := s.subs[p.SecurityID]
	if !exists {
		sub = &subscription{}
		s.subs[p.SecurityID] = sub
	}
	sub.refcount++
	s.mu.Unlock()
	if _, err := s.deps.Hub.Subscribe(p.SecurityID, sec.ExchangeID, 0); err != nil {
		logs.Debugf("clientport: subscribe %d: %+v", p.SecurityID, err)
	}
}

func (s *Session) handleUnsub(in Inbound) {
	var p unsubParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	s.mu.Lock()
	if sub, ok := s.subs[p.SecurityID]; ok {
		sub.refcount--
		if sub.refcount <= 0 {
			delete(s.subs, p.SecurityID)
		}
	}
	s.mu.Unlock()
}

func (s *Session) handleOrder(in Inbound) {
	var p orderParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	userID := s.currentUserID()
	if !s.deps.Cache.UserCanAccess(userID, p.SubAccountID) {
		s.sendError(in.Action, "no permission for sub_account")
		return
	}
	o := &schema.Order{
		SubAccountID: p.SubAccountID,
		SecurityID:   p.SecurityID,
		Side:         schema.Side(p.Side),
		Type:         schema.OrderType(p.Type),
		TimeInForce:  schema.TimeInForce(p.TimeInForce),
		Qty:          schema.Quantity(p.Qty),
		Price:        schema.Price(p.Price),
		StopPrice:    schema.Price(p.StopPrice),
	}
	s.deps.Connectivity.Place(userID, o)
}

func (s *Session) handleCancel(in Inbound) {
	var p cancelParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	s.deps.Connectivity.Cancel(s.currentUserID(), p.OrderID)
}

func (s *Session) handleAlgo(in Inbound) {
	var p algoParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	strategy, ok := s.deps.Algos.NewStrategy(p.Name)
	if !ok {
		s.sendError(in.Action, fmt.Sprintf("unknown algo %q", p.Name))
		return
	}
	params := make(map[string]algo.ParamValue, len(p.Params))
	for k, v := range p.Params {
		params[k] = decodeParam(v)
	}
	id, err := s.deps.Algos.Spawn(s.currentUserID(), p.Name, strategy, params, p.Token)
	if err != nil {
		s.sendError(in.Action, err.Error())
		return
	}
	s.send("algo", struct {
		AlgoID uint32 `json:"algo_id"`
	}{AlgoID: id})
}

func decodeParam(v rawAlgoParam) algo.ParamValue {
	switch v.Kind {
	case "bool":
		return algo.ParamValue{Kind: algo.ParamBool, Bool: v.Bool}
	case "int":
		return algo.ParamValue{Kind: algo.ParamInt, Int: v.Int}
	case "float":
		return algo.ParamValue{Kind: algo.ParamFloat, Float: v.Float}
	default:
		return algo.ParamValue{Kind: algo.ParamString, Str: v.Str}
	}
}

func (s *Session) handleAlgoCancel(in Inbound) {
	var p algoCancelParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	s.deps.Algos.Stop(p.AlgoID, "")
}

func (s *Session) handleOffline(ctx context.Context, in Inbound) {
	var p offlineParams
	if err := json.Unmarshal(in.Params, &p); err != nil {
		s.sendError(in.Action, "bad params")
		return
	}
	userID := s.currentUserID()
	if s.deps.JournalDir != "" {
		orderbook.Replay(ctx, s.deps.JournalDir, "", p.SeqConfirmation, func(h schema.EventHeader, payload []byte) error {
			c, err := orderbook.DecodeConfirmation(payload)
			if err != nil {
				return nil
			}
			if !s.deps.Cache.UserCanAccess(userID, c.SubAccountID) {
				return nil
			}
			s.send("Order", c)
			return nil
		})
	}
}

func (s *Session) handleBod() {
	userID := s.currentUserID()
	u, ok := s.deps.Cache.User(userID)
	if !ok {
		return
	}
	for subID := range u.SubAccounts {
		for _, sec := range s.deps.Cache.AllSecurities() {
			pos := s.deps.Positions.SubAccountPosition(subID, sec.ID)
			if pos == nil || pos.Qty == 0 {
				continue
			}
			s.send("bod", pos)
		}
	}
}

func (s *Session) handlePnl() {
	s.mu.Lock()
	s.pnlOn = true
	s.mu.Unlock()
}

func (s *Session) handleShutdown() {
	if !s.currentAdmin() {
		s.sendError("shutdown", "admin only")
		return
	}
	if s.deps.Shutdown != nil {
		s.deps.Shutdown()
	}
}

func (s *Session) currentUserID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) currentAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// publishTicker implements spec §4.9's per-connection 1-second publish
// tick: market-data deltas for every subscribed security, and — if
// pnl is on — one pnl message per (sub-account, security) position
// plus the aggregate Pnl.
func (s *Session) publishTicker(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.publishOnce()
		}
	}
}

func (s *Session) publishOnce() {
	s.mu.Lock()
	pnlOn := s.pnlOn
	keys := make([]uint32, 0, len(s.subs))
	for k := range s.subs {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, secID := range keys {
		cur := s.deps.Hub.Get(0, secID)
		s.mu.Lock()
		sub, ok := s.subs[secID]
		if !ok {
			s.mu.Unlock()
			continue
		}
		prev := sub.sent
		fields := deltaFields(prev, cur)
		if len(fields) > 0 {
			sub.sent = cur
		}
		s.mu.Unlock()
		if len(fields) > 0 {
			s.send("md", mdDelta{SecurityID: secID, Fields: fields})
		}
	}

	if pnlOn {
		userID := s.currentUserID()
		u, ok := s.deps.Cache.User(userID)
		if !ok {
			return
		}
		var realizedTotal, unrealizedTotal int64
		for subID := range u.SubAccounts {
			positions := s.deps.Positions.AllSubAccountPositions(subID)
			for secID := range positions {
				realized, unrealized := positions[secID].RealizedPnL, positions[secID].UnrealizedPnL
				realizedTotal += realized
				unrealizedTotal += unrealized
				s.send("pnl", struct {
					SubAccountID uint32 `json:"sub_account_id"`
					SecurityID   uint32 `json:"security_id"`
					Realized     int64  `json:"realized"`
					Unrealized   int64  `json:"unrealized"`
				}{subID, secID, realized, unrealized})
			}
		}
		s.send("Pnl", struct {
			Realized   int64 `json:"realized"`
			Unrealized int64 `json:"unrealized"`
		}{realizedTotal, unrealizedTotal})
	}
}

// deltaFields diffs two snapshots and returns only the changed fields:
// `close` and `volume` from the trade summary, and the ask/bid prices
// of each depth level as `a0..a4`/`b0..b4`. Depth sizes are not compared.
func deltaFields(prev, cur schema.MarketData) map[string]int64 {
	fields := map[string]int64{}
	if prev.Trade.Close != cur.Trade.Close {
		fields["close"] = int64(cur.Trade.Close)
	}
	if prev.Trade.Volume != cur.Trade.Volume {
		fields["volume"] = int64(cur.Trade.Volume)
	}
	for i := 0; i < schema.DepthLevels; i++ {
		if prev.Depth[i].AskPrice != cur.Depth[i].AskPrice {
			fields[fmt.Sprintf("a%d", i)] = int64(cur.Depth[i].AskPrice)
		}
		if prev.Depth[i].BidPrice != cur.Depth[i].BidPrice {
			fields[fmt.Sprintf("b%d", i)] = int64(cur.Depth[i].BidPrice)
		}
	}
	return fields
}
