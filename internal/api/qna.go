package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/teris-io/shortid"

	"github.com/qnahub/go-qna/internal/config"
	"github.com/qnahub/go-qna/internal/database"
	"github.com/qnahub/go-qna/internal/server"
)

type QnaApp struct {
	log            *log.Logger
	db             database.QnaRepository
	mux            *http.Server
	qs             *server.QnaServer
	signingKey     []byte
	allowedOrigins []string

	// swappable in tests
	generateRoomCode func() (string, error)
}

func NewQnaApp(mux *http.ServeMux, logger *log.Logger, qs *server.QnaServer, db database.QnaRepository, cfg *config.Config) *QnaApp {
	s := &QnaApp{
		log:              logger,
		db:               db,
		qs:               qs,
		signingKey:       cfg.SigningKey,
		allowedOrigins:   cfg.AllowedOrigins,
		generateRoomCode: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.HandleFunc("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.HandleFunc("POST /api/rooms/join", s.authMiddleware(s.joinRoom))
	mux.HandleFunc("GET /api/questions", s.authMiddleware(s.getQuestions))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *QnaApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *QnaApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
