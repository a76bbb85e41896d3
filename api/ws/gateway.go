// Package ws is the websocket gateway: clients join rooms, receive the
// events addressed to them and place orders over the same connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fracx/domain/errs"
	"fracx/domain/event"
	"fracx/infra/rooms"
	"fracx/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 << 10
	replyBuffer    = 16
)

// Client actions.
const (
	SubscribeAsset        = "subscribe_asset"
	UnsubscribeAsset      = "unsubscribe_asset"
	SubscribeAllAssets    = "subscribe_all_assets"
	UnsubscribeAllAssets  = "unsubscribe_all_assets"
	SubscribeUserOrders   = "subscribe_user_orders"
	UnsubscribeUserOrders = "unsubscribe_user_orders"
	GetAssetPrice         = "get_asset_price"
	GetOrderBook          = "get_orderbook"
	PlaceLimitOrder       = "place_limit_order"
	PlaceMarketOrder      = "place_market_order"
)

// Request is one client message. Fields beyond Action are read per action;
// Type is accepted as an alias of Side.
type Request struct {
	Action    string          `json:"action"`
	RequestID string          `json:"requestId,omitempty"`
	AssetID   string          `json:"assetId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Side      string          `json:"side,omitempty"`
	Type      string          `json:"type,omitempty"`
	Quantity  int64           `json:"quantity,omitempty"`
	Price     decimal.Decimal `json:"price"`
}

// Ack answers a Request. Pushed room events are sent as event.Envelope.
type Ack struct {
	Event     string `json:"event"` // always "ack"
	RequestID string `json:"requestId,omitempty"`
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Gateway struct {
	svc      *service.OrderService
	hub      *rooms.Hub
	depth    int
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// NewGateway builds the handler. An empty origins list accepts any origin.
func NewGateway(svc *service.OrderService, hub *rooms.Hub, origins []string, depth int, log *zap.Logger) *Gateway {
	g := &Gateway{svc: svc, hub: hub, depth: depth, log: log.Named("ws")}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(origins) == 0 || origin == "" || slices.Contains(origins, origin)
		},
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	sub := g.hub.Subscribe("ws-"+uuid.NewString(), 0)
	c := &client{
		gw:      g,
		conn:    conn,
		sub:     sub,
		replies: make(chan Ack, replyBuffer),
		done:    make(chan struct{}),
	}
	g.log.Info("client connected", zap.String("subscriber", sub.ID), zap.String("remote", r.RemoteAddr))

	go c.writeLoop()
	c.readLoop(context.WithoutCancel(r.Context()))

	g.hub.Close(sub)
	close(c.done)
	g.log.Info("client disconnected", zap.String("subscriber", sub.ID))
}

type client struct {
	gw      *Gateway
	conn    *websocket.Conn
	sub     *rooms.Subscriber
	replies chan Ack
	done    chan struct{}
}

func (c *client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var req Request
		if err := c.conn.ReadJSON(&req); err != nil {
			var syntax *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntax) || errors.As(err, &typeErr) {
				c.reply(Ack{Action: req.Action, RequestID: req.RequestID, Error: "malformed message"})
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.log.Debug("read failed", zap.String("subscriber", c.sub.ID), zap.Error(err))
			}
			return
		}
		c.reply(c.gw.handle(ctx, c.sub, req))
	}
}

func (c *client) reply(a Ack) {
	a.Event = "ack"
	select {
	case c.replies <- a:
	case <-c.done:
	}
}

// writeLoop is the only writer on the connection.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		var msg any
		select {
		case <-c.done:
			return
		case env, ok := <-c.sub.C:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			msg = env
		case a := <-c.replies:
			msg = a
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
			continue
		}

		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

func (g *Gateway) handle(ctx context.Context, sub *rooms.Subscriber, req Request) Ack {
	ack := Ack{Action: req.Action, RequestID: req.RequestID}
	data, err := g.dispatch(ctx, sub, req)
	if err != nil {
		ack.Error = err.Error()
		return ack
	}
	ack.OK = true
	ack.Data = data
	return ack
}

func (g *Gateway) dispatch(ctx context.Context, sub *rooms.Subscriber, req Request) (any, error) {
	switch req.Action {
	case SubscribeAsset, UnsubscribeAsset:
		if req.AssetID == "" {
			return nil, errs.Invalid("assetId", "required")
		}
		g.toggle(sub, event.AssetRoom(req.AssetID), req.Action == SubscribeAsset)
		return nil, nil

	case SubscribeAllAssets, UnsubscribeAllAssets:
		g.toggle(sub, event.AllAssetsRoom, req.Action == SubscribeAllAssets)
		return nil, nil

	case SubscribeUserOrders, UnsubscribeUserOrders:
		if req.UserID == "" {
			return nil, errs.Invalid("userId", "required")
		}
		g.toggle(sub, event.UserRoom(req.UserID), req.Action == SubscribeUserOrders)
		return nil, nil

	case GetAssetPrice:
		a, err := g.svc.GetAsset(req.AssetID)
		if err != nil {
			return nil, err
		}
		return event.PricePayload{AssetID: a.ID, CurrentPrice: a.CurrentPrice, Timestamp: time.Now().UTC()}, nil

	case GetOrderBook:
		return event.Book(g.svc.GetOrderBook(req.AssetID, g.depth), g.depth).Data, nil

	case PlaceLimitOrder:
		return g.svc.PlaceLimitOrder(ctx, service.LimitOrderRequest{
			AssetID:  req.AssetID,
			Side:     req.side(),
			Quantity: req.Quantity,
			Price:    req.Price,
			UserID:   req.UserID,
		})

	case PlaceMarketOrder:
		res, err := g.svc.PlaceMarketOrder(ctx, service.MarketOrderRequest{
			AssetID:  req.AssetID,
			Side:     req.side(),
			Quantity: req.Quantity,
			UserID:   req.UserID,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"order": res.Order, "totalCost": res.TotalCost, "trades": res.Trades}, nil

	default:
		return nil, errs.Invalid("action", "unknown action "+req.Action)
	}
}

func (g *Gateway) toggle(sub *rooms.Subscriber, room string, join bool) {
	if join {
		g.hub.Join(sub, room)
	} else {
		g.hub.Leave(sub, room)
	}
	g.log.Debug("room membership changed",
		zap.String("subscriber", sub.ID),
		zap.String("room", room),
		zap.Bool("joined", join),
	)
}

func (r Request) side() string {
	if r.Side != "" {
		return r.Side
	}
	return r.Type
}
