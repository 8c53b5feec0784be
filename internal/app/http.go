package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/windorg/woc-sub000/internal/auth"
	"github.com/windorg/woc-sub000/internal/cards"
	"github.com/windorg/woc-sub000/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		log:        logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/session/login", s.handleLogin)

	mux.HandleFunc("GET /api/users/{userID}/boards", s.handleListBoards)
	mux.HandleFunc("POST /api/cards", s.handleCreateCard)
	mux.HandleFunc("GET /api/cards/{cardID}", s.handleGetCard)
	mux.HandleFunc("PATCH /api/cards/{cardID}", s.handleUpdateCard)
	mux.HandleFunc("DELETE /api/cards/{cardID}", s.handleDeleteCard)
	mux.HandleFunc("GET /api/cards/{cardID}/children", s.handleListChildren)
	mux.HandleFunc("POST /api/cards/{cardID}/move", s.handleMoveCard)
	mux.HandleFunc("POST /api/cards/{cardID}/reorder", s.handleReorder)
	mux.HandleFunc("POST /api/cards/{cardID}/fire", s.handleFireCard)

	mux.HandleFunc("GET /api/cards/{cardID}/comments", s.handleListComments)
	mux.HandleFunc("POST /api/cards/{cardID}/comments", s.handleCreateComment)
	mux.HandleFunc("PATCH /api/comments/{commentID}", s.handleUpdateComment)
	mux.HandleFunc("DELETE /api/comments/{commentID}", s.handleDeleteComment)
	mux.HandleFunc("GET /api/comments/{commentID}/replies", s.handleListReplies)
	mux.HandleFunc("POST /api/comments/{commentID}/replies", s.handleCreateReply)
	mux.HandleFunc("DELETE /api/replies/{replyID}", s.handleDeleteReply)
	mux.HandleFunc("GET /api/comments/{commentID}/subscription", s.handleGetSubscription)
	mux.HandleFunc("PUT /api/comments/{commentID}/subscription", s.handleSetSubscription(true))
	mux.HandleFunc("DELETE /api/comments/{commentID}/subscription", s.handleSetSubscription(false))

	mux.HandleFunc("GET /api/inbox", s.handleInbox)
	mux.HandleFunc("DELETE /api/inbox/{notificationID}", s.handleDismiss)
	mux.HandleFunc("GET /api/search", s.handleSearch)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: strings.Split(s.corsOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         86400,
	})
	return corsHandler.Handler(s.withMiddleware(mux))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ready, checks := s.service.ReadyChecks(ctx)
	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     ready,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "userName": session.UserName, "userId": session.UserID})
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	session, err := s.service.Login(r.Context(), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     session.Token,
		"userName":  session.UserName,
		"userId":    session.UserID,
		"expiresAt": session.ExpiresAt.UTC(),
	})
}

func (s *HTTPServer) handleListBoards(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	boards, err := s.service.ListBoards(r.Context(), viewerID, r.PathValue("userID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": boards})
}

func (s *HTTPServer) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body CreateCardInput
	if !s.decode(w, r, &body) {
		return
	}
	node, err := s.service.CreateCard(r.Context(), session.UserID, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"card": node})
}

func (s *HTTPServer) handleGetCard(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	node, err := s.service.GetCard(r.Context(), viewerID, r.PathValue("cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": node})
}

func (s *HTTPServer) handleUpdateCard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body cards.NodePatch
	if !s.decode(w, r, &body) {
		return
	}
	node, err := s.service.UpdateCard(r.Context(), session.UserID, r.PathValue("cardID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": node})
}

func (s *HTTPServer) handleDeleteCard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	result, err := s.service.DeleteCard(r.Context(), session.UserID, r.PathValue("cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deleted":      result.Deleted,
		"formerParent": result.FormerParent,
	})
}

func (s *HTTPServer) handleListChildren(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	children, err := s.service.ListChildren(r.Context(), viewerID, r.PathValue("cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cards": children})
}

func (s *HTTPServer) handleMoveCard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		ParentID string `json:"parentId"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.MoveCard(r.Context(), session.UserID, r.PathValue("cardID"), body.ParentID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"card":      result.Node,
		"oldParent": result.OldParent,
		"newParent": result.NewParent,
	})
}

func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body struct {
		ChildID string `json:"childId"`
		cards.Placement
	}
	if !s.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.ChildID) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "childId is required", nil)
		return
	}
	order, err := s.service.ReorderChildren(r.Context(), session.UserID, r.PathValue("cardID"), body.ChildID, body.Placement)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"childrenOrder": order})
}

func (s *HTTPServer) handleFireCard(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	result, err := s.service.FireCard(r.Context(), session.UserID, r.PathValue("cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"card": result.Node, "parent": result.Parent})
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	comments, err := s.service.ListComments(r.Context(), viewerID, r.PathValue("cardID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comments": comments})
}

func (s *HTTPServer) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body cards.CommentInput
	if !s.decode(w, r, &body) {
		return
	}
	comment, err := s.service.CreateComment(r.Context(), session.UserID, r.PathValue("cardID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleUpdateComment(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body cards.CommentPatch
	if !s.decode(w, r, &body) {
		return
	}
	comment, err := s.service.UpdateComment(r.Context(), session.UserID, r.PathValue("commentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"comment": comment})
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	comment, err := s.service.DeleteComment(r.Context(), session.UserID, r.PathValue("commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": comment.ID})
}

func (s *HTTPServer) handleListReplies(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	replies, err := s.service.ListReplies(r.Context(), viewerID, r.PathValue("commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replies": replies})
}

func (s *HTTPServer) handleCreateReply(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	var body cards.ReplyInput
	if !s.decode(w, r, &body) {
		return
	}
	reply, err := s.service.CreateReply(r.Context(), session.UserID, r.PathValue("commentID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reply": reply})
}

func (s *HTTPServer) handleDeleteReply(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	reply, err := s.service.DeleteReply(r.Context(), session.UserID, r.PathValue("replyID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": reply.ID})
}

func (s *HTTPServer) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	subscribed, err := s.service.Subscription(r.Context(), session.UserID, r.PathValue("commentID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscribed": subscribed})
}

func (s *HTTPServer) handleSetSubscription(follow bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		subscribed, err := s.service.SetSubscription(r.Context(), session.UserID, r.PathValue("commentID"), follow)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscribed": subscribed})
	}
}

func (s *HTTPServer) handleInbox(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	items, err := s.service.Inbox(r.Context(), session.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleDismiss(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}
	if err := s.service.DismissNotification(r.Context(), session.UserID, r.PathValue("notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	viewerID, ok := s.viewer(w, r)
	if !ok {
		return
	}
	params := r.URL.Query()
	q := search.Query{
		Text:          params.Get("q"),
		FilterType:    search.ResultType(params.Get("type")),
		FilterOwnerID: params.Get("owner"),
	}
	if q.FilterType != "" && q.FilterType != search.ResultCard && q.FilterType != search.ResultComment {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "type must be card or comment", nil)
		return
	}
	var err error
	if q.Limit, err = queryInt(params.Get("limit")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be a number", nil)
		return
	}
	if q.Offset, err = queryInt(params.Get("offset")); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be a number", nil)
		return
	}

	resp, err := s.service.Search(r.Context(), viewerID, q)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// viewer resolves the optional bearer token. Anonymous requests get an empty
// viewer; a token that is present but invalid is rejected.
func (s *HTTPServer) viewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	if bearerToken(r) == "" {
		return "", true
	}
	session, ok := s.requireSession(w, r)
	if !ok {
		return "", false
	}
	return session.UserID, true
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		s.fail(w, r, errUnauthorized)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			err = errUnauthorized
		}
		s.fail(w, r, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", requestIDFrom(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		writer.Header().Set("Cache-Control", "no-store")
		writer.Header().Set("Content-Type", "application/json")
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	id, err := gonanoid.New()
	if err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

// decodeBody accepts an empty body as "no fields set".
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}
