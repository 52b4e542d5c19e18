package main

import (
	"avatalk/audio"
	"avatalk/avatar"
	"avatalk/config"
	"avatalk/models"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

const maxAudioBody = 25 << 20

type tokenCreator interface {
	CreateToken(ctx context.Context) (string, error)
}

type Server struct {
	bot         *Bot
	cfg         *config.Config
	logger      *slog.Logger
	tokens      tokenCreator
	transcriber audio.Transcriber
	proxy       *httputil.ReverseProxy
}

type ServerOpts struct {
	Bot         *Bot
	Config      *config.Config
	Logger      *slog.Logger
	Tokens      tokenCreator
	Transcriber audio.Transcriber
}

func NewServer(opts ServerOpts) (*Server, error) {
	target, err := url.Parse(opts.Config.AvatarAPIRoot)
	if err != nil {
		return nil, fmt.Errorf("bad avatar api root: %w", err)
	}
	apiKey := opts.Config.AvatarAPIKey
	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if apiKey != "" {
				pr.Out.Header.Set("X-Api-Key", apiKey)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			opts.Logger.Error("avatar api proxy", "path", r.URL.Path, "error", err)
			http.Error(w, "avatar api unavailable", http.StatusBadGateway)
		},
	}
	return &Server{
		bot:         opts.Bot,
		cfg:         opts.Config,
		logger:      opts.Logger,
		tokens:      opts.Tokens,
		transcriber: opts.Transcriber,
		proxy:       proxy,
	}, nil
}

func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ping", srv.pingHandler)
	mux.HandleFunc("POST /avatar/api/get-access-token", srv.accessTokenHandler)
	mux.Handle("/api/", http.StripPrefix("/api", srv.proxy))
	mux.HandleFunc("POST /chat", srv.chatHandler)
	mux.HandleFunc("GET /session", srv.sessionHandler)
	mux.HandleFunc("GET /sessions", srv.sessionsHandler)
	mux.HandleFunc("POST /session/start", srv.startHandler)
	mux.HandleFunc("POST /session/speak", srv.speakHandler)
	mux.HandleFunc("POST /session/interrupt", srv.interruptHandler)
	mux.HandleFunc("POST /session/end", srv.endHandler)
	mux.HandleFunc("POST /transcribe", srv.transcribeHandler)
	return mux
}

func (srv *Server) ListenToRequests(port string) error {
	limit := time.Duration(srv.cfg.RequestLimit) * time.Second
	server := &http.Server{
		Addr:         srv.cfg.ServerAddr + ":" + port,
		Handler:      srv.Handler(),
		ReadTimeout:  limit,
		WriteTimeout: limit + 5*time.Second,
	}
	srv.logger.Info("listening", "addr", server.Addr)
	go func() {
		<-ctx.Done()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (srv *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		srv.logger.Warn("failed to write response", "error", err)
	}
}

func (srv *Server) writeError(w http.ResponseWriter, status int, err error) {
	srv.writeJSON(w, status, map[string]string{
		"error":  err.Error(),
		"status": srv.bot.avatar.Snapshot().Status,
	})
}

func (srv *Server) pingHandler(w http.ResponseWriter, req *http.Request) {
	if _, err := w.Write([]byte("pong")); err != nil {
		srv.logger.Error("server ping", "error", err)
	}
}

// accessTokenHandler exchanges the account api key for a short-lived token.
func (srv *Server) accessTokenHandler(w http.ResponseWriter, req *http.Request) {
	token, err := srv.tokens.CreateToken(req.Context())
	if err != nil {
		srv.logger.Error("error retrieving access token", "error", err)
		http.Error(w, "Failed to retrieve access token", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(token)); err != nil {
		srv.logger.Warn("failed to write token", "error", err)
	}
}

type chatRequest struct {
	Message string `json:"message"`
	Role    string `json:"role,omitempty"`
}

type chatResponse struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}

func (srv *Server) chatHandler(w http.ResponseWriter, req *http.Request) {
	var cr chatRequest
	if err := json.NewDecoder(req.Body).Decode(&cr); err != nil {
		srv.writeError(w, http.StatusBadRequest, err)
		return
	}
	reply, err := srv.bot.ChatRound(req.Context(), &models.ChatRoundReq{UserMsg: cr.Message, Role: cr.Role})
	if errors.Is(err, errEmptyMessage) {
		srv.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		srv.writeError(w, http.StatusBadGateway, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, chatResponse{Text: reply.Text, HTML: reply.HTML})
}

func (srv *Server) sessionHandler(w http.ResponseWriter, req *http.Request) {
	srv.writeJSON(w, http.StatusOK, srv.bot.avatar.Snapshot())
}

func (srv *Server) sessionsHandler(w http.ResponseWriter, req *http.Request) {
	records, err := srv.bot.store.ListSessions(20)
	if err != nil {
		srv.writeError(w, http.StatusInternalServerError, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, records)
}

type startRequest struct {
	AvatarID string `json:"avatar_id"`
	VoiceID  string `json:"voice_id"`
}

func (srv *Server) startHandler(w http.ResponseWriter, req *http.Request) {
	var sr startRequest
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&sr); err != nil && !errors.Is(err, io.EOF) {
			srv.writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	snap, err := srv.bot.StartAvatar(req.Context(), sr.AvatarID, sr.VoiceID)
	switch {
	case errors.Is(err, avatar.ErrSessionActive):
		srv.writeError(w, http.StatusConflict, err)
	case err != nil:
		srv.writeError(w, http.StatusBadGateway, err)
	default:
		srv.writeJSON(w, http.StatusOK, snap)
	}
}

type speakRequest struct {
	Text string `json:"text"`
}

func (srv *Server) speakHandler(w http.ResponseWriter, req *http.Request) {
	var sr speakRequest
	if err := json.NewDecoder(req.Body).Decode(&sr); err != nil {
		srv.writeError(w, http.StatusBadRequest, err)
		return
	}
	srv.sessionResult(w, srv.bot.avatar.Speak(req.Context(), sr.Text))
}

func (srv *Server) interruptHandler(w http.ResponseWriter, req *http.Request) {
	srv.sessionResult(w, srv.bot.StopSpeaking(req.Context()))
}

func (srv *Server) endHandler(w http.ResponseWriter, req *http.Request) {
	srv.sessionResult(w, srv.bot.avatar.EndSession(req.Context()))
}

func (srv *Server) sessionResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, avatar.ErrNotInitialized):
		srv.writeError(w, http.StatusConflict, err)
	default:
		srv.writeError(w, http.StatusBadGateway, err)
	}
}

func (srv *Server) transcribeHandler(w http.ResponseWriter, req *http.Request) {
	if srv.transcriber == nil {
		http.Error(w, "transcription disabled", http.StatusNotImplemented)
		return
	}
	wav, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxAudioBody))
	if err != nil {
		srv.writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	text, err := srv.transcriber.Transcribe(req.Context(), wav)
	if err != nil {
		srv.writeError(w, http.StatusBadGateway, err)
		return
	}
	srv.writeJSON(w, http.StatusOK, map[string]string{"text": text})
}
