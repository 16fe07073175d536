package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/notarynet/notary/types"
)

const (
	wsReadLimit    = maxRequestSize
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The server binds to operator loopback by default; cross-origin
	// browsers are not part of the threat model.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebsocket upgrades the connection and serves subscription
// requests. The only streaming method is notary_subscribeEventProofs;
// regular query methods work over the socket too.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	c := &wsConn{
		srv:    s,
		conn:   conn,
		sendCh: make(chan RPCResponse, s.subscriptionSz),
		quit:   make(chan struct{}),
	}
	go c.writeLoop()
	c.readLoop()
}

// wsConn is one websocket client. Responses and streamed events funnel
// through sendCh so only writeLoop touches the connection for writes.
type wsConn struct {
	srv       *Server
	conn      *websocket.Conn
	sendCh    chan RPCResponse
	quit      chan struct{}
	closeOnce sync.Once

	mtx   sync.Mutex
	subID string // bus subscriber id, set once subscribed
}

func (c *wsConn) subscriberID() string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.subID
}

func (c *wsConn) setSubscriberID(id string) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if c.subID != "" {
		return false
	}
	c.subID = id
	return true
}

func (c *wsConn) readLoop() {
	defer c.close()
	c.conn.SetReadLimit(wsReadLimit)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var req RPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			c.trySend(newRPCErrorResponse(nil, codeParseError, "Parse error", err.Error()))
			continue
		}
		if req.Method == "notary_subscribeEventProofs" {
			c.trySend(c.subscribe(req))
			continue
		}
		c.trySend(c.srv.dispatch(req))
	}
}

// subscribe attaches this connection to the event bus; finalized proofs
// stream as JSON-RPC notifications carrying the chain-appropriate proof
// response. A second subscribe on one connection is a no-op.
func (c *wsConn) subscribe(req RPCRequest) RPCResponse {
	if existing := c.subscriberID(); existing != "" {
		return newRPCSuccessResponse(req.ID, existing)
	}
	id := uuid.NewString()
	sub, err := c.srv.env.Bus.Subscribe(id, c.srv.subscriptionSz)
	if err != nil {
		return newRPCErrorResponse(req.ID, codeInternalError, "Internal error", err.Error())
	}
	c.setSubscriberID(id)

	go func() {
		for {
			select {
			case ev, ok := <-sub.Out():
				if !ok {
					return
				}
				fin, ok := ev.(types.EventProofFinalized)
				if !ok {
					continue
				}
				c.streamProof(fin.Proof)
			case <-c.quit:
				return
			}
		}
	}()
	return newRPCSuccessResponse(req.ID, id)
}

func (c *wsConn) streamProof(proof *types.FinalizedProof) {
	var result interface{}
	switch proof.Kind.ChainID() {
	case types.ChainXrpl:
		resp, err := c.srv.xrplProofResponse(proof)
		if err != nil {
			c.srv.logger.Error("failed to render streamed proof",
				"proof_id", proof.ProofID, "err", err)
			return
		}
		result = resp
	default:
		result = c.srv.ethProofResponse(proof)
	}
	// Notifications carry no id; subscribers correlate by event content.
	c.trySend(newRPCSuccessResponse(nil, result))
}

// trySend queues a response, dropping the connection when the client
// cannot keep up: a stalled operator socket must not pin bus buffers.
func (c *wsConn) trySend(resp RPCResponse) {
	select {
	case c.sendCh <- resp:
	case <-c.quit:
	default:
		c.srv.logger.Info("websocket client too slow, dropping connection")
		c.close()
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case resp := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
			if err := c.conn.WriteJSON(resp); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.quit:
			return
		}
	}
}

func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		if id := c.subscriberID(); id != "" {
			c.srv.env.Bus.Unsubscribe(id)
		}
		_ = c.conn.Close()
	})
}
