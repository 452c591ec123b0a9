// Copyright (c) 2021 The AmeowCoin developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcserver implements a read-only JSON-RPC status surface and
// websocket notification feed: getinfo, getblock, getrawmempool,
// getpeerinfo, plus a push feed of newly accepted blocks and
// transactions. It never mutates chain state and carries no wallet
// functionality.
package rpcserver

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"github.com/alexanderdna/ameowcoin/blockchain"
	"github.com/alexanderdna/ameowcoin/ibd"
	"github.com/alexanderdna/ameowcoin/protocol"
)

// log is the subsystem logger for package rpcserver.
var log = slog.Disabled

// UseLogger sets the package-wide logger used by rpcserver.
func UseLogger(logger slog.Logger) {
	log = logger
}

// rpcAuthTimeout bounds how long the server waits on a client's HTTP Basic
// Auth header before rejecting it.
const rpcAuthTimeout = 10 * time.Second

// Config bundles everything the RPC server needs: the chain engine and
// peer set to report on, IBD status, and the credentials guarding it.
type Config struct {
	Chain      *blockchain.Chain
	Node       *protocol.Node
	IBD        *ibd.Controller
	MiningOn   func() bool
	MinerAddr  func() string
	Username   string
	Password   string
	MaxClients int
}

// Server serves the JSON-RPC 2.0 HTTP endpoint and the websocket
// notification feed over a single listener.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// New creates a Server from cfg. It does not start listening; call Start.
func New(cfg Config) *Server {
	return &Server{
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		clients:  make(map[*wsClient]struct{}),
	}
}

// Start begins serving HTTP on listenAddr. It returns once the listener is
// established; serving continues on background goroutines until the
// process exits.
func (s *Server) Start(listenAddr string) error {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/ws", s.handleWebsocket)

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: rpcAuthTimeout}
	go func() {
		log.Infof("RPC server listening on %s", listenAddr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("RPC server stopped: %v", err)
		}
	}()
	return nil
}

func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.cfg.Username == "" && s.cfg.Password == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != s.cfg.Username || pass != s.cfg.Password {
		w.Header().Set("WWW-Authenticate", `Basic realm="ameowcoind RPC"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope.
type rpcResponse struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, rpcResponse{Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	result, rpcErr := s.dispatch(req.Method, req.Params)
	resp := rpcResponse{ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to write RPC response: %v", err)
	}
}

func (s *Server) dispatch(method string, params json.RawMessage) (interface{}, *rpcError) {
	switch method {
	case "getinfo":
		return s.getInfo(), nil
	case "getblock":
		return s.getBlock(params)
	case "getrawmempool":
		return s.getRawMempool(), nil
	case "getpeerinfo":
		return s.getPeerInfo(), nil
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

// getInfoResult is a minimal getinfo response, covering only what this
// read-only node tracks.
type getInfoResult struct {
	Height      uint64 `json:"height"`
	Peers       int    `json:"peers"`
	MempoolSize int    `json:"mempoolsize"`
	Mining      bool   `json:"mining"`
	IBDPhase    string `json:"ibdphase"`
}

func (s *Server) getInfo() getInfoResult {
	mining := false
	if s.cfg.MiningOn != nil {
		mining = s.cfg.MiningOn()
	}
	return getInfoResult{
		Height:      s.cfg.Chain.Blocks.Height(),
		Peers:       len(s.cfg.Node.Peers()),
		MempoolSize: len(s.cfg.Chain.Txs.GetPendingSorted(-1)),
		Mining:      mining,
		IBDPhase:    phaseName(s.cfg.IBD.Phase()),
	}
}

type getBlockParams struct {
	Height *uint64 `json:"height"`
	Hash   *string `json:"hash"`
}

func (s *Server) getBlock(raw json.RawMessage) (interface{}, *rpcError) {
	var params getBlockParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, &rpcError{Code: -32602, Message: "invalid params"}
		}
	}

	var (
		b  *blockchain.Block
		ok bool
	)
	switch {
	case params.Hash != nil:
		b, ok = s.cfg.Chain.Blocks.GetByHash(*params.Hash)
	case params.Height != nil:
		b, ok = s.cfg.Chain.Blocks.GetByHeight(*params.Height)
	default:
		return nil, &rpcError{Code: -32602, Message: "height or hash required"}
	}
	if !ok {
		return nil, &rpcError{Code: -5, Message: "block not found"}
	}
	return b, nil
}

func (s *Server) getRawMempool() []blockchain.PendingTransaction {
	return s.cfg.Chain.Txs.GetPendingSorted(-1)
}

// peerInfo mirrors exccjson.GetPeerInfoResult, trimmed to the fields this
// protocol tracks: no ban score or protocol-feature bitmask since this
// wire protocol has neither.
type peerInfo struct {
	Addr       string `json:"addr"`
	Outbound   bool   `json:"outbound"`
	Version    int    `json:"version"`
	LastHeight uint64 `json:"lastheight"`
	LastRecv   int64  `json:"lastrecv"`
}

func (s *Server) getPeerInfo() []peerInfo {
	peers := s.cfg.Node.Peers()
	out := make([]peerInfo, 0, len(peers))
	for _, p := range peers {
		out = append(out, peerInfo{
			Addr:       p.Addr,
			Outbound:   p.IsOutbound,
			Version:    p.Version(),
			LastHeight: p.LastHeight(),
			LastRecv:   p.LastMessageIn(),
		})
	}
	return out
}

func phaseName(ph ibd.Phase) string {
	switch ph {
	case ibd.None:
		return "none"
	case ibd.Preparing:
		return "preparing"
	case ibd.Running:
		return "running"
	case ibd.Succeeded:
		return "succeeded"
	case ibd.Failed:
		return "failed"
	default:
		return "unknown"
	}
}
