// Package live implements the WebSocket log subscription path: reconnect
// with backoff, gap detection against the stored cursor, and reorg
// revocation (spec §4.5). It speaks eth_subscribe directly over
// gorilla/websocket rather than through ethclient's subscription wrapper so
// it can inspect the raw notification envelope, including "removed".
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/degenerus/event-indexer/internal/blocktime"
	"github.com/degenerus/event-indexer/internal/decoder"
	"github.com/degenerus/event-indexer/internal/recordutil"
	"github.com/degenerus/event-indexer/internal/registry"
	"github.com/degenerus/event-indexer/internal/store"
)

const (
	maxBackoff = 60 * time.Second

	// pingInterval/pingTimeout mirror the original's
	// websockets.connect(..., ping_interval=20, ping_timeout=20): an
	// application-level ping every 20s, and the connection is considered
	// dead if no pong (or any other message) arrives within 20s of a ping
	// (spec §5), so the read deadline spans pingInterval+pingTimeout.
	pingInterval = 20 * time.Second
	pingTimeout  = 20 * time.Second
)

// GapFiller is the subset of backfill.Engine the subscriber needs to close
// gaps between the stored cursor and an incoming notification's block
// number, and to catch up before the first subscribe.
type GapFiller interface {
	BackfillRange(ctx context.Context, from, to uint64) error
	BackfillMissedBlocks(ctx context.Context, startBlock uint64) error
}

// Subscriber runs subscribe_to_events (spec §4.5).
type Subscriber struct {
	url            string
	addresses      []common.Address
	reg            *registry.Registry
	store          *store.Store
	times          *blocktime.Cache
	backfill       GapFiller
	startBlock     uint64
	reconnectDelay time.Duration

	nextID int
}

// New builds a Subscriber. reconnectDelay is the initial backoff, floored at
// one second; it doubles on each consecutive failed attempt up to 60s, and
// resets to the floor after a successful (re)subscribe.
func New(url string, reg *registry.Registry, st *store.Store, times *blocktime.Cache, bf GapFiller, startBlock uint64, reconnectDelay time.Duration) *Subscriber {
	if reconnectDelay < time.Second {
		reconnectDelay = time.Second
	}
	return &Subscriber{
		url:            url,
		addresses:      reg.Addresses(),
		reg:            reg,
		store:          st,
		times:          times,
		backfill:       bf,
		startBlock:     startBlock,
		reconnectDelay: reconnectDelay,
	}
}

// Run subscribes and processes notifications until ctx is cancelled,
// reconnecting with exponential backoff on any failure.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := s.reconnectDelay

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.backfill.BackfillMissedBlocks(ctx, s.startBlock); err != nil {
			logrus.Warnf("live: catch-up backfill failed: %v", err)
		}

		resetBackoff := func() { backoff = s.reconnectDelay }
		if err := s.runOnce(ctx, resetBackoff); err != nil {
			logrus.Warnf("live: websocket error: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
	Method string          `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// runOnce dials, subscribes, and reads notifications until the connection
// fails or ctx is cancelled. On a clean subscribe it resets the backoff.
func (s *Subscriber) runOnce(ctx context.Context, resetBackoff func()) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	reqID, err := s.subscribe(conn)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	logrus.Infof("live: subscribed to logs (request id %d)", reqID)
	resetBackoff()

	conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
		return nil
	})

	done := make(chan struct{})
	defer close(done)
	go s.watchContext(ctx, conn, done)
	go s.pingLoop(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))

		var resp rpcResponse
		if err := json.Unmarshal(message, &resp); err != nil {
			logrus.Warnf("live: malformed message: %v", err)
			continue
		}

		if resp.Method != "eth_subscription" {
			if resp.Error != nil {
				logrus.Warnf("live: rpc error: %s", string(resp.Error))
			}
			continue
		}

		var lg types.Log
		if err := json.Unmarshal(resp.Params.Result, &lg); err != nil {
			logrus.Warnf("live: failed to parse log notification: %v", err)
			continue
		}

		if err := s.handleLog(ctx, lg); err != nil {
			logrus.Warnf("live: failed to handle log %s/%d: %v", lg.TxHash.Hex(), lg.Index, err)
		}
	}
}

func (s *Subscriber) watchContext(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		conn.Close()
	case <-done:
	}
}

// pingLoop sends an application-level ping every pingInterval so a
// half-open connection (the peer gone but the TCP socket never torn down)
// is detected instead of blocking ReadMessage forever: a missed pong lets
// the read deadline set in runOnce expire and fail the read, which is what
// actually triggers reconnection.
func (s *Subscriber) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Subscriber) subscribe(conn *websocket.Conn) (int, error) {
	s.nextID++
	id := s.nextID

	addrParam := make([]string, len(s.addresses))
	for i, a := range s.addresses {
		addrParam[i] = a.Hex()
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "eth_subscribe",
		Params:  []interface{}{"logs", map[string]interface{}{"address": addrParam}},
	}
	if err := conn.WriteJSON(req); err != nil {
		return 0, err
	}

	for {
		var resp rpcResponse
		if err := conn.ReadJSON(&resp); err != nil {
			return 0, err
		}
		if resp.ID != nil && *resp.ID == id {
			if resp.Error != nil {
				return 0, fmt.Errorf("subscribe rejected: %s", string(resp.Error))
			}
			return id, nil
		}
		// A notification arriving before the subscribe ack is unexpected
		// this early but not impossible; drop it rather than block forever.
	}
}

// handleLog implements _handle_ws_log: reorg revocation, gap-fill backfill,
// then normal decode-and-persist (spec §4.5 step 2-4).
func (s *Subscriber) handleLog(ctx context.Context, lg types.Log) error {
	if lg.Removed {
		return s.store.DeleteLog(lg.TxHash.Hex(), uint32(lg.Index))
	}

	if cursor, _, ok, err := s.store.ReadCursor(); err != nil {
		return err
	} else if ok && lg.BlockNumber > cursor+1 {
		if err := s.backfill.BackfillRange(ctx, cursor+1, lg.BlockNumber-1); err != nil {
			logrus.Warnf("live: gap backfill [%d,%d] failed: %v", cursor+1, lg.BlockNumber-1, err)
		}
	}

	return s.processEvent(ctx, lg)
}

func (s *Subscriber) processEvent(ctx context.Context, lg types.Log) error {
	entry, _ := s.reg.Lookup(lg.Address)
	evt := decoder.Decode(entry, &lg)

	decodedJSON, err := recordutil.MarshalArgs(evt.Args)
	if err != nil {
		return err
	}

	ts, tsErr := s.times.Timestamp(ctx, lg.BlockNumber)
	var tsPtr *uint64
	if tsErr == nil {
		tsPtr = &ts
	} else {
		logrus.Warnf("live: timestamp lookup failed for block %d: %v", lg.BlockNumber, tsErr)
	}

	var rawData *string
	if len(lg.Data) > 0 {
		s := recordutil.RawDataHex(lg.Data)
		rawData = &s
	}

	rec := store.EventRecord{
		BlockNumber:      lg.BlockNumber,
		BlockTimestamp:   tsPtr,
		TransactionHash:  lg.TxHash.Hex(),
		TransactionIndex: uint32(lg.TxIndex),
		LogIndex:         uint32(lg.Index),
		ContractAddress:  recordutil.LowerHex(lg.Address),
		EventName:        evt.Name,
		EventSignature:   evt.Signature,
		RawData:          rawData,
		DecodedArgs:      decodedJSON,
	}

	inserted, err := s.store.InsertEvent(rec)
	if err != nil {
		return err
	}

	if inserted && len(evt.IndexedArgs) > 0 {
		var indexed []store.IndexedArg
		for k, v := range evt.IndexedArgs {
			sv, err := recordutil.MarshalArgValue(v)
			if err != nil {
				return err
			}
			indexed = append(indexed, store.IndexedArg{ArgName: k, ArgValue: sv})
		}
		if err := s.store.InsertIndexedArgs(rec.TransactionHash, rec.LogIndex, rec.ContractAddress, rec.EventName, rec.BlockNumber, indexed); err != nil {
			return err
		}
	}

	return s.store.UpdateSync(lg.BlockNumber, tsPtr)
}
