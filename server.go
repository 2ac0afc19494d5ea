package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

//go:embed frontend
var frontendFS embed.FS

const maxBodySize = 16 << 10 // 16 Ko

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		interval: interval,
	}
	// Cleanup stale entries every minute.
	go func() {
		for {
			time.Sleep(time.Minute)
			rl.mu.Lock()
			for ip, b := range rl.visitors {
				if time.Since(b.lastSeen) > 5*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &bucket{tokens: rl.rate - 1, lastSeen: time.Now()}
		return true
	}

	// Refill tokens based on elapsed time.
	elapsed := time.Since(b.lastSeen)
	refill := int(elapsed / rl.interval)
	if refill > 0 {
		b.tokens += refill * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastSeen = time.Now()
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Server is the main HTTP server.
type Server struct {
	mux      *http.ServeMux
	store    *Store
	tokens   *TokenIssuer
	reviewer Reviewer
	sse      *Broadcaster
	logger   *slog.Logger

	sessionRL *rateLimiter
	actionRL  *rateLimiter
}

// NewServer creates a configured HTTP server. reviewer may be nil, in
// which case metadata is only validated, never moderated.
func NewServer(store *Store, tokens *TokenIssuer, reviewer Reviewer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		store:     store,
		tokens:    tokens,
		reviewer:  reviewer,
		sse:       NewBroadcaster(),
		logger:    logger,
		sessionRL: newRateLimiter(10, time.Minute), // 10 sessions/min per IP
		actionRL:  newRateLimiter(30, time.Second), // 30 clicks/sec per IP
	}
	store.Grid().OnChange = s.publishCells
	store.setEventHandler(s.publishSessionEvent)
	s.routes()
	return s
}

func (s *Server) routes() {
	// Session API
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("DELETE /api/sessions/current", s.withSession(s.handleCloseSession))

	// Wallet API
	s.mux.HandleFunc("GET /api/wallet", s.withSession(s.handleGetWallet))
	s.mux.HandleFunc("POST /api/wallet/connect", s.withSession(s.handleConnectWallet))
	s.mux.HandleFunc("POST /api/wallet/disconnect", s.withSession(s.handleDisconnectWallet))
	s.mux.HandleFunc("POST /api/wallet/chain", s.withSession(s.handleSwitchChain))
	s.mux.HandleFunc("GET /api/wallet/requests", s.withSession(s.handleListPaymentRequests))
	s.mux.HandleFunc("POST /api/wallet/requests/{id}/approve", s.withSession(s.handleApprovePayment))
	s.mux.HandleFunc("POST /api/wallet/requests/{id}/reject", s.withSession(s.handleRejectPayment))

	// Selection API
	s.mux.HandleFunc("GET /api/selection", s.withSession(s.handleGetSelection))
	s.mux.HandleFunc("POST /api/selection/toggle", s.withSession(s.handleToggleCell))
	s.mux.HandleFunc("DELETE /api/selection", s.withSession(s.handleClearSelection))

	// Purchase API
	s.mux.HandleFunc("POST /api/purchases", s.withSession(s.handleCommitPurchase))
	s.mux.HandleFunc("GET /api/purchases/current", s.withSession(s.handleGetPurchase))
	s.mux.HandleFunc("DELETE /api/purchases/current", s.withSession(s.handleAbandonPurchase))

	// Grid API
	s.mux.HandleFunc("GET /api/grid", s.handleGetGrid)
	s.mux.HandleFunc("GET /api/grid/cells/{x}/{y}", s.handleGetCell)
	s.mux.HandleFunc("GET /api/accounts/{address}/cells", s.handleAccountCells)
	s.mux.HandleFunc("GET /api/accounts/{address}/refunds", s.handleAccountRefunds)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/config", s.handleConfig)

	// Frontend static files
	frontendDir, _ := fs.Sub(frontendFS, "frontend")
	s.mux.Handle("GET /", http.FileServer(http.FS(frontendDir)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https:; connect-src 'self'")
	s.mux.ServeHTTP(w, r)
}

// --- Session handlers ---

// POST /api/sessions: open a session and hand out its token.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if !s.sessionRL.allow(clientIP(r)) {
		jsonError(w, "Trop de requêtes, réessayez plus tard", http.StatusTooManyRequests)
		return
	}

	sess := s.store.CreateSession()
	token, expires, err := s.tokens.Issue(sess.ID)
	if err != nil {
		s.store.CloseSession(sess.ID)
		s.logger.Error("jeton de session non signé", "error", err)
		jsonError(w, "Erreur interne", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": sess.ID,
		"token":      token,
		"expires_at": expires.UTC(),
	})
}

// DELETE /api/sessions/current: close the session.
func (s *Server) handleCloseSession(w http.ResponseWriter, _ *http.Request, sess *Session) {
	s.store.CloseSession(sess.ID)
	w.WriteHeader(http.StatusNoContent)
}

// --- Wallet handlers ---

// GET /api/wallet: connection state and balance.
func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request, sess *Session) {
	writeJSON(w, http.StatusOK, s.walletView(r.Context(), sess.Wallet))
}

// POST /api/wallet/connect: connect, optionally switching account first.
func (s *Server) handleConnectWallet(w http.ResponseWriter, r *http.Request, sess *Session) {
	var req struct {
		Account string `json:"account"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "Requête invalide", http.StatusBadRequest)
		return
	}
	if req.Account != "" {
		account, err := ParseAddress(req.Account)
		if err != nil || account.IsZero() {
			jsonError(w, "Adresse invalide", http.StatusBadRequest)
			return
		}
		if err := sess.Wallet.SwitchAccount(r.Context(), account); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if _, err := sess.Wallet.Connect(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.walletView(r.Context(), sess.Wallet))
}

// POST /api/wallet/disconnect
func (s *Server) handleDisconnectWallet(w http.ResponseWriter, _ *http.Request, sess *Session) {
	sess.Wallet.Disconnect()
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/wallet/chain: switch network. Waiting payments are declined.
func (s *Server) handleSwitchChain(w http.ResponseWriter, r *http.Request, sess *Session) {
	var req struct {
		ChainID int64 `json:"chain_id"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil || req.ChainID <= 0 {
		jsonError(w, "Réseau invalide", http.StatusBadRequest)
		return
	}
	if err := sess.Wallet.SwitchChain(req.ChainID); err != nil {
		jsonError(w, "Réseau invalide", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.walletView(r.Context(), sess.Wallet))
}

// GET /api/wallet/requests: payments waiting for the holder.
func (s *Server) handleListPaymentRequests(w http.ResponseWriter, _ *http.Request, sess *Session) {
	writeJSON(w, http.StatusOK, sess.Wallet.Pending())
}

func (s *Server) handleApprovePayment(w http.ResponseWriter, r *http.Request, sess *Session) {
	if err := sess.Wallet.Approve(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRejectPayment(w http.ResponseWriter, r *http.Request, sess *Session) {
	if err := sess.Wallet.Reject(r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Selection handlers ---

// GET /api/selection
func (s *Server) handleGetSelection(w http.ResponseWriter, _ *http.Request, sess *Session) {
	writeJSON(w, http.StatusOK, s.selectionView(sess.Selection))
}

// POST /api/selection/toggle: add or remove one cell.
func (s *Server) handleToggleCell(w http.ResponseWriter, r *http.Request, sess *Session) {
	if !s.actionRL.allow(clientIP(r)) {
		jsonError(w, "Trop de requêtes, réessayez plus tard", http.StatusTooManyRequests)
		return
	}

	var req struct {
		X *int `json:"x"`
		Y *int `json:"y"`
	}
	if err := decodeJSONBody(w, r, &req); err != nil || req.X == nil || req.Y == nil {
		jsonError(w, "Coordonnées manquantes", http.StatusBadRequest)
		return
	}
	c := Coord{X: *req.X, Y: *req.Y}
	selected, err := sess.Selection.Toggle(c)
	if err != nil {
		s.writeError(w, err)
		return
	}

	view := s.selectionView(sess.Selection)
	view["cell"] = c
	view["selected"] = selected
	writeJSON(w, http.StatusOK, view)
}

// DELETE /api/selection
func (s *Server) handleClearSelection(w http.ResponseWriter, _ *http.Request, sess *Session) {
	sess.Selection.Clear()
	writeJSON(w, http.StatusOK, s.selectionView(sess.Selection))
}

// --- Purchase handlers ---

// POST /api/purchases: freeze the selection and ask the wallet to pay.
// The outcome arrives on the session's event stream.
func (s *Server) handleCommitPurchase(w http.ResponseWriter, r *http.Request, sess *Session) {
	if !s.actionRL.allow(clientIP(r)) {
		jsonError(w, "Trop de requêtes, réessayez plus tard", http.StatusTooManyRequests)
		return
	}

	var meta Metadata
	if err := decodeJSON(w, r, &meta); err != nil {
		jsonError(w, "Requête invalide", http.StatusBadRequest)
		return
	}
	meta, err := meta.Validate()
	if err != nil {
		s.writeError(w, err)
		return
	}

	if s.reviewer != nil {
		verdict, err := s.reviewer.Review(r.Context(), meta)
		if err != nil {
			s.logger.Error("modération indisponible", "session", sess.ID, "error", err)
			jsonError(w, "Modération indisponible, réessayez plus tard", http.StatusServiceUnavailable)
			return
		}
		if !verdict.Allowed {
			code, msg := errorStatus(ErrMetadataRejected)
			s.logger.Info("métadonnées refusées", "session", sess.ID, "reason", verdict.Reason)
			writeJSON(w, code, map[string]string{"error": msg, "reason": verdict.Reason})
			return
		}
	}

	p, err := sess.Coordinator.Begin(meta)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// The purchase outlives this request: it waits for the holder.
	go sess.Coordinator.Run(context.WithoutCancel(r.Context()), p)

	writeJSON(w, http.StatusAccepted, pendingView(p))
}

// GET /api/purchases/current: state, in-flight purchase and last outcome.
func (s *Server) handleGetPurchase(w http.ResponseWriter, _ *http.Request, sess *Session) {
	resp := map[string]any{"state": sess.Coordinator.State()}
	if p := sess.Coordinator.Pending(); p != nil {
		resp["pending"] = pendingView(p)
	}
	if out := sess.Coordinator.LastOutcome(); out != nil {
		resp["last_outcome"] = outcomeView(*out)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DELETE /api/purchases/current: abandon while the wallet has not answered.
func (s *Server) handleAbandonPurchase(w http.ResponseWriter, _ *http.Request, sess *Session) {
	if err := sess.Coordinator.Abandon(); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// --- Grid handlers ---

// GET /api/grid: owned cells, plus the caller's selection when a token
// is given. Served as CBOR when the client asks for it.
func (s *Server) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	var selected []Coord
	if sess := s.optionalSession(r); sess != nil {
		selected = sess.Selection.Coords()
	}
	view := newGridView(s.store.Grid().Snapshot(), selected)

	if strings.Contains(r.Header.Get("Accept"), cborContentType) {
		w.Header().Set("Content-Type", cborContentType)
		if err := view.EncodeCBOR(w); err != nil {
			s.logger.Error("encodage CBOR de la grille", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GET /api/grid/cells/{x}/{y}
func (s *Server) handleGetCell(w http.ResponseWriter, r *http.Request) {
	x, errX := strconv.Atoi(r.PathValue("x"))
	y, errY := strconv.Atoi(r.PathValue("y"))
	if errX != nil || errY != nil {
		jsonError(w, "Coordonnées invalides", http.StatusBadRequest)
		return
	}
	cell, err := s.store.Grid().Cell(Coord{X: x, Y: y})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Cell
		Title string `json:"title"`
	}{cell, cell.Title()})
}

// GET /api/accounts/{address}/cells
func (s *Server) handleAccountCells(w http.ResponseWriter, r *http.Request) {
	owner, err := ParseAddress(r.PathValue("address"))
	if err != nil {
		jsonError(w, "Adresse invalide", http.StatusBadRequest)
		return
	}
	cells := s.store.Grid().OwnedBy(owner)
	if cells == nil {
		cells = []Cell{}
	}
	writeJSON(w, http.StatusOK, cells)
}

// GET /api/accounts/{address}/refunds
func (s *Server) handleAccountRefunds(w http.ResponseWriter, r *http.Request) {
	account, err := ParseAddress(r.PathValue("address"))
	if err != nil {
		jsonError(w, "Adresse invalide", http.StatusBadRequest)
		return
	}
	ledger := s.store.Ledger()
	if ledger == nil {
		writeJSON(w, http.StatusOK, []Refund{})
		return
	}
	refunds, err := ledger.Refunds(r.Context(), account)
	if err != nil {
		s.logger.Error("lecture des remboursements", "account", account, "error", err)
		jsonError(w, "Erreur interne", http.StatusInternalServerError)
		return
	}
	if refunds == nil {
		refunds = []Refund{}
	}
	writeJSON(w, http.StatusOK, refunds)
}

// GET /api/events: SSE stream of grid updates, plus the session's own
// wallet and purchase events when ?token= is given.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	topics := []string{topicGrid}
	sess := s.optionalSession(r)
	if sess != nil {
		topics = append(topics, sessionTopic(sess.ID))
	}

	s.sse.ServeSSE(w, r, topics, func(c *client) {
		hello := map[string]any{
			"type": "connected",
			"size": s.store.Grid().Size(),
		}
		if sess != nil {
			hello["session_id"] = sess.ID
			hello["state"] = sess.Coordinator.State()
		}
		evt, _ := json.Marshal(hello)
		c.ch <- string(evt)
	})
}

// GET /api/config: what the page needs to draw the grid and price it.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	price := s.store.PixelPrice()
	writeJSON(w, http.StatusOK, map[string]any{
		"grid_size":       s.store.Grid().Size(),
		"pixel_price_wei": price.String(),
		"pixel_price_eth": FormatEther(price),
		"treasury":        s.store.Treasury().String(),
		"chain_id":        s.store.ChainID(),
		"review_enabled":  s.reviewer != nil,
	})
}

// --- Events ---

func (s *Server) publishCells(cells []Cell) {
	evt, err := json.Marshal(map[string]any{
		"type":  "cells_owned",
		"cells": cells,
	})
	if err != nil {
		s.logger.Error("événement de grille non encodé", "error", err)
		return
	}
	s.sse.Broadcast(topicGrid, string(evt))
}

func (s *Server) publishSessionEvent(ev SessionEvent) {
	evt, err := json.Marshal(map[string]any{
		"type":    ev.Type,
		"payload": ev.Payload,
	})
	if err != nil {
		s.logger.Error("événement de session non encodé", "session", ev.SessionID, "error", err)
		return
	}
	s.sse.Broadcast(sessionTopic(ev.SessionID), string(evt))
}

// --- Session lookup ---

func (s *Server) withSession(h func(http.ResponseWriter, *http.Request, *Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := s.tokens.Verify(sessionToken(r))
		if err != nil {
			jsonError(w, "Session invalide ou expirée", http.StatusUnauthorized)
			return
		}
		sess := s.store.GetSession(id)
		if sess == nil {
			jsonError(w, "Session introuvable", http.StatusUnauthorized)
			return
		}
		sess.Touch()
		h(w, r, sess)
	}
}

func (s *Server) optionalSession(r *http.Request) *Session {
	token := sessionToken(r)
	if token == "" {
		return nil
	}
	id, err := s.tokens.Verify(token)
	if err != nil {
		return nil
	}
	sess := s.store.GetSession(id)
	if sess != nil {
		sess.Touch()
	}
	return sess
}

// sessionToken reads the bearer token, or ?token= for EventSource
// which cannot set headers.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// --- Views ---

func (s *Server) walletView(ctx context.Context, w *LedgerWallet) map[string]any {
	view := map[string]any{
		"connected": false,
		"chain_id":  w.ChainID(),
	}
	account, ok := w.Account()
	if !ok {
		return view
	}
	view["connected"] = true
	view["account"] = account.String()
	if balance, err := w.Balance(ctx); err == nil {
		view["balance_wei"] = balance.String()
		view["balance_eth"] = FormatEtherFixed(balance, 4)
	} else {
		s.logger.Warn("solde indisponible", "account", account, "error", err)
	}
	return view
}

func (s *Server) selectionView(sel *Selection) map[string]any {
	total := sel.Total(s.store.PixelPrice())
	return map[string]any{
		"cells":     sel.Coords(),
		"count":     sel.Len(),
		"total_wei": total.String(),
		"total_eth": FormatEther(total),
	}
}

func pendingView(p *PendingPurchase) map[string]any {
	return map[string]any{
		"id":         p.ID,
		"cells":      p.Cells,
		"metadata":   p.Metadata,
		"total_wei":  p.Total.String(),
		"total_eth":  FormatEther(p.Total),
		"payer":      p.Payer,
		"recipient":  p.Recipient,
		"tx_hash":    p.TxHash,
		"status":     p.Status,
		"created_at": p.CreatedAt,
	}
}

func outcomeView(out Outcome) map[string]any {
	view := map[string]any{
		"purchase_id": out.PurchaseID,
		"success":     out.Success,
		"funds_moved": out.FundsMoved,
	}
	if out.TxHash != "" {
		view["tx_hash"] = out.TxHash
	}
	if len(out.Owned) > 0 {
		view["owned"] = out.Owned
	}
	if len(out.Conflicts) > 0 {
		view["conflicts"] = out.Conflicts
	}
	if out.RefundDue != nil && out.RefundDue.Sign() > 0 {
		view["refund_due_wei"] = out.RefundDue.String()
		view["refund_due_eth"] = FormatEther(out.RefundDue)
	}
	if out.Err != nil {
		_, msg := errorStatus(out.Err)
		view["error"] = msg
	}
	return view
}

// --- Helpers ---

// errorStatus maps a domain error to an HTTP status and a message for
// the visitor. Unknown errors are internal.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrOutOfBounds):
		return http.StatusNotFound, "Case hors de la grille"
	case errors.Is(err, ErrAlreadyOwned):
		return http.StatusConflict, "Certaines cases ont été achetées par quelqu'un d'autre"
	case errors.Is(err, ErrCellUnavailable):
		return http.StatusConflict, "Case déjà achetée"
	case errors.Is(err, ErrEmptySelection):
		return http.StatusBadRequest, "Aucune case sélectionnée"
	case errors.Is(err, ErrMetadataRejected):
		return http.StatusUnprocessableEntity, "Contenu refusé par la modération"
	case errors.Is(err, ErrInvalidMetadata):
		return http.StatusBadRequest, "Lien ou image invalide : URL http(s) absolue attendue"
	case errors.Is(err, ErrNoProvider):
		return http.StatusPreconditionFailed, "Aucun portefeuille disponible"
	case errors.Is(err, ErrWalletNotConnected):
		return http.StatusPreconditionFailed, "Portefeuille non connecté"
	case errors.Is(err, ErrInvalidRecipient):
		return http.StatusConflict, "Destinataire du paiement invalide"
	case errors.Is(err, ErrPurchaseInProgress):
		return http.StatusConflict, "Un achat est déjà en cours"
	case errors.Is(err, ErrNotCancellable):
		return http.StatusConflict, "Paiement déjà envoyé, annulation impossible"
	case errors.Is(err, ErrNoPurchase):
		return http.StatusNotFound, "Aucun achat en cours"
	case errors.Is(err, ErrUnknownRequest):
		return http.StatusNotFound, "Demande de paiement introuvable"
	case errors.Is(err, ErrAbandoned):
		return http.StatusConflict, "Achat abandonné"
	case errors.Is(err, ErrUserDeclined):
		return http.StatusConflict, "Paiement refusé dans le portefeuille"
	case errors.Is(err, ErrAccountMismatch):
		return http.StatusConflict, "Le compte du portefeuille a changé"
	case errors.Is(err, ErrWalletRejected):
		return http.StatusBadGateway, "Le portefeuille n'a pas pu envoyer le paiement"
	case errors.Is(err, ErrTransactionFailed):
		return http.StatusBadGateway, "La transaction a échoué"
	case errors.Is(err, ErrTransportError):
		return http.StatusBadGateway, "Portefeuille injoignable"
	}
	return http.StatusInternalServerError, "Erreur interne"
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code, msg := errorStatus(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("erreur non gérée", "error", err)
	}
	resp := map[string]any{"error": msg}
	var owned *AlreadyOwnedError
	var unavailable *UnavailableError
	switch {
	case errors.As(err, &owned):
		resp["cells"] = owned.Coords
	case errors.As(err, &unavailable):
		resp["cells"] = unavailable.Coords
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeJSON reads a small JSON body. An empty body leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	err := decodeJSONBody(w, r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// decodeJSONBody reads a small JSON body that must be present.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(v)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
