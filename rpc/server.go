package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/netutil"

	"github.com/notarynet/notary/internal/aggregator"
	"github.com/notarynet/notary/internal/proofstore"
	"github.com/notarynet/notary/internal/pubsub"
	"github.com/notarynet/notary/internal/session"
	"github.com/notarynet/notary/libs/log"
	"github.com/notarynet/notary/libs/service"
	"github.com/notarynet/notary/types"
)

const (
	defaultWriteTimeout   = 10 * time.Second
	defaultSubscriptionSz = 128

	// maxRequestSize bounds one JSON-RPC request body.
	maxRequestSize = 1 << 20
)

// ProofStore is the slice of the proof store the RPC surface reads.
type ProofStore interface {
	GetProof(chain types.ChainID, id uint64) (*types.FinalizedProof, error)
	ListEvidence(max int) ([]*types.EquivocationEvidence, error)
	Info() proofstore.Info
}

// TallySource is the slice of the aggregator the RPC surface reads.
type TallySource interface {
	ClaimState(id uint64) (*types.ClaimState, error)
	Status() aggregator.Status
	Watermark(chain types.ChainID) (uint64, bool)
}

// Env bundles everything the handlers read. All fields are required except
// Heights, which defaults to reporting zero.
type Env struct {
	Moniker string
	Store   ProofStore
	Tally   TallySource
	Sets    *session.Tracker
	Bus     *pubsub.Bus

	// Heights reports the latest finalized runtime height for status.
	Heights func() int64
}

// Option configures the server at construction.
type Option func(*Server)

// WithWriteTimeout bounds writes to slow websocket subscribers.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithSubscriptionBuffer sets each websocket subscriber's event buffer.
func WithSubscriptionBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.subscriptionSz = n
		}
	}
}

// WithMaxOpenConnections caps simultaneous client connections; zero means
// unlimited.
func WithMaxOpenConnections(n int) Option {
	return func(s *Server) { s.maxOpenConns = n }
}

// Server is the JSON-RPC and websocket front end.
type Server struct {
	service.BaseService
	logger log.Logger

	env    Env
	laddr  string
	routes map[string]handlerFunc

	writeTimeout   time.Duration
	subscriptionSz int
	maxOpenConns   int

	listener net.Listener
	srv      *http.Server
}

type handlerFunc func(params json.RawMessage) (interface{}, *RPCError)

// NewServer builds a server listening on laddr ("tcp://host:port"). Call
// Start to begin serving.
func NewServer(logger log.Logger, laddr string, env Env, opts ...Option) *Server {
	s := &Server{
		logger:         logger.With("module", "rpc"),
		env:            env,
		laddr:          laddr,
		writeTimeout:   defaultWriteTimeout,
		subscriptionSz: defaultSubscriptionSz,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes = map[string]handlerFunc{
		"notary_getEventProof":    s.getEventProof,
		"notary_getXrplTxProof":   s.getXrplTxProof,
		"notary_getClaim":         s.getClaim,
		"notary_getEquivocations": s.getEquivocations,
		"notary_status":           s.status,
	}
	s.BaseService = *service.NewBaseService(s.logger, "RPCServer", s)
	return s
}

// OnStart implements service.Implementation, binding the listener so a bad
// address fails Start rather than surfacing later.
func (s *Server) OnStart(ctx context.Context) error {
	proto, addr, err := splitListenAddress(s.laddr)
	if err != nil {
		return err
	}
	ln, err := net.Listen(proto, addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.laddr, err)
	}
	if s.maxOpenConns > 0 {
		ln = netutil.LimitListener(ln, s.maxOpenConns)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleJSONRPC)
	mux.HandleFunc("/websocket", s.handleWebsocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("rpc server terminated", "err", err)
		}
	}()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())
	return nil
}

// OnStop implements service.Implementation.
func (s *Server) OnStop() {
	sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(sctx); err != nil {
		_ = s.srv.Close()
	}
}

// Addr returns the bound listen address, useful when the configured port
// was zero.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeRPC(w, http.StatusMethodNotAllowed, newRPCErrorResponse(nil,
			codeInvalidRequest, "Invalid request", "only POST is supported"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		writeRPC(w, http.StatusBadRequest, newRPCErrorResponse(nil,
			codeParseError, "Parse error", err.Error()))
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeRPC(w, http.StatusOK, newRPCErrorResponse(nil,
			codeParseError, "Parse error", err.Error()))
		return
	}
	writeRPC(w, http.StatusOK, s.dispatch(req))
}

func (s *Server) dispatch(req RPCRequest) RPCResponse {
	handler, ok := s.routes[req.Method]
	if !ok {
		return newRPCErrorResponse(req.ID, codeMethodNotFound, "Method not found", req.Method)
	}
	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		return RPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
	}
	return newRPCSuccessResponse(req.ID, result)
}

func writeRPC(w http.ResponseWriter, status int, resp RPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func splitListenAddress(laddr string) (proto, addr string, err error) {
	parts := strings.SplitN(laddr, "://", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid listen address %q (expected proto://addr)", laddr)
	}
	return parts[0], parts[1], nil
}
