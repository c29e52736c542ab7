package api

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"guardian/ai"
	perr "guardian/internal/errors"
	"guardian/internal/logger"
	"guardian/internal/service"
	"guardian/models"
	"guardian/redact"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
)

// maxUploadBytes предел загружаемого файла
const maxUploadBytes = 512 << 20

var upgrader = websocket.Upgrader{
	// клиент - локальная оболочка приложения
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Pipeline операции, которые сервер отдаёт наружу; реализуется service.Pipeline
type Pipeline interface {
	Initialize(ctx context.Context, withArtifacts bool, emit func(service.StatusEvent)) error
	ProcessPage(ctx context.Context, path string, page int, profile ai.Profile) ([]redact.Candidate, error)
	ProcessAudio(ctx context.Context, path string) (*service.AudioAnalysis, error)
	ExportPDF(ctx context.Context, input, directives, output string) (*service.RedactionResult, error)
	RedactAudio(ctx context.Context, input, directives, output string) (*service.RedactionResult, error)
	ListModels(ctx context.Context) *service.ModelListing
}

// Options параметры сервера
type Options struct {
	Addr           string
	ControlAddr    string // unix:/path, npipe:\\.\pipe\name или host:port; пусто - без gRPC
	AllowedOrigins []string
	UploadDir      string
	Gatherer       prometheus.Gatherer // nil - без /metrics
}

// Server HTTP API, WebSocket и gRPC управляющий канал поверх одного пайплайна
type Server struct {
	opts     Options
	pipeline Pipeline
	models   *models.Manager
	router   chi.Router

	httpSrv *http.Server
	grpcSrv *grpc.Server

	clients map[*wsClient]bool
	mu      sync.Mutex
}

// NewServer создаёт сервер; manager может быть nil
func NewServer(opts Options, pipeline Pipeline, manager *models.Manager) *Server {
	s := &Server{
		opts:     opts,
		pipeline: pipeline,
		models:   manager,
		clients:  make(map[*wsClient]bool),
	}
	s.router = s.routes()
	s.setupCallbacks()
	return s
}

// Handler корневой HTTP-обработчик
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.Heartbeat("/healthz"))

	r.Get("/ws", s.handleWebSocket)
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/init", s.handleInit)
		r.Post("/process-page", s.handleProcessPage)
		r.Post("/process-audio", s.handleProcessAudio)
		r.Post("/export-pdf", s.handleExportPDF)
		r.Post("/apply-redactions", s.handleApplyRedactions)
		r.Post("/files", s.handleUpload)
		r.Get("/models", s.handleModels)
	})
	return r
}

// requestLogger кладёт request id в контекст логгера и пишет итог запроса
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRequest(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r.WithContext(ctx))
		logger.C(ctx).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("http request")
	})
}

// Run слушает HTTP и управляющий канал до отмены ctx
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")

	lis, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "listen %s", s.opts.Addr)
	}
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	if s.opts.ControlAddr != "" {
		if err := s.startGRPCServer(s.opts.ControlAddr); err != nil {
			lis.Close()
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("http listening")
		errCh <- s.httpSrv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown останавливает HTTP, gRPC и закрывает WebSocket-клиентов
func (s *Server) Shutdown(ctx context.Context) error {
	if s.grpcSrv != nil {
		s.stopGRPC(ctx)
	}
	s.mu.Lock()
	for c := range s.clients {
		c.conn.Close()
		delete(s.clients, c)
	}
	s.mu.Unlock()
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stopGRPC ждёт завершения потоков до истечения ctx, затем рвёт их
func (s *Server) stopGRPC(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcSrv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		logger.Named("grpc").Warn().Msg("control streams still open, forcing stop")
		s.grpcSrv.Stop()
		<-stopped
	}
}

func (s *Server) setupCallbacks() {
	if s.models == nil {
		return
	}
	s.models.SetProgressCallback(func(modelID string, progress float64, status models.ModelStatus, err error) {
		msg := Message{Type: MsgModelProgress, ModelID: modelID, Progress: progress, Data: string(status)}
		if err != nil {
			wire := perr.WireFrom(err)
			msg.Error = &wire
		}
		s.broadcast(msg)
	})
}

// wsClient соединение с собственной блокировкой записи
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (s *Server) broadcast(msg Message) {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			logger.Named("ws").Debug().Err(err).Msg("write failed, dropping client")
			s.dropClient(c)
		}
	}
}

func (s *Server) dropClient(c *wsClient) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.conn.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	log := logger.Named("ws")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("upgrade failed")
		return
	}

	client := &wsClient{conn: conn}
	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()
	defer s.dropClient(client)

	ctx := r.Context()
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		s.processMessage(ctx, msg, client.send)
	}
}

// processMessage общий обработчик WebSocket и gRPC сообщений. Ответы и
// промежуточные статусы уходят через send с тем же RequestID.
func (s *Server) processMessage(ctx context.Context, msg Message, send func(Message) error) {
	reqID := msg.RequestID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	ctx = logger.WithRequest(ctx, reqID)
	reply := func(m Message) {
		m.RequestID = reqID
		if err := send(m); err != nil {
			logger.C(ctx).Debug().Err(err).Str("type", m.Type).Msg("reply not delivered")
		}
	}
	fail := func(err error) {
		wire := perr.WireFrom(err)
		logger.C(ctx).Warn().Err(err).Str("type", msg.Type).Msg("control message failed")
		reply(Message{Type: MsgError, Data: wire.Message, Error: &wire})
	}

	switch msg.Type {
	case MsgInit:
		err := s.pipeline.Initialize(ctx, msg.Artifacts, func(ev service.StatusEvent) {
			reply(Message{Type: MsgStatus, Status: &ev})
		})
		if err != nil {
			fail(err)
		}

	case MsgProcessPage:
		if msg.Path == "" || msg.Page < 1 {
			fail(perr.New(perr.ErrorCodeValidation, "path and page >= 1 are required"))
			return
		}
		profile, err := ai.ParseProfile(msg.Profile)
		if err != nil {
			fail(perr.Wrap(err, perr.ErrorCodeValidation, "invalid profile"))
			return
		}
		cands, err := s.pipeline.ProcessPage(ctx, msg.Path, msg.Page, profile)
		if err != nil {
			fail(err)
			return
		}
		reply(Message{Type: MsgPageProcessed, Path: msg.Path, Page: msg.Page, Candidates: cands})

	case MsgProcessAudio:
		if msg.Path == "" {
			fail(perr.New(perr.ErrorCodeValidation, "path is required"))
			return
		}
		analysis, err := s.pipeline.ProcessAudio(ctx, msg.Path)
		if err != nil {
			fail(err)
			return
		}
		reply(Message{Type: MsgAudioProcessed, Path: msg.Path, Analysis: analysis})

	case MsgExportPDF, MsgApplyRedactions:
		if msg.Path == "" || msg.Directives == "" || msg.Output == "" {
			fail(perr.New(perr.ErrorCodeValidation, "path, directives and output are required"))
			return
		}
		apply := s.pipeline.ExportPDF
		if msg.Type == MsgApplyRedactions {
			apply = s.pipeline.RedactAudio
		}
		res, err := apply(ctx, msg.Path, msg.Directives, msg.Output)
		if err != nil {
			fail(err)
			return
		}
		reply(Message{Type: MsgRedactionResult, Result: res})

	case MsgGetModels:
		reply(Message{Type: MsgModelsList, Models: s.pipeline.ListModels(ctx)})

	case MsgDownloadModel, MsgCancelDownload, MsgDeleteModel:
		if s.models == nil {
			fail(perr.New(perr.ErrorCodeUnavailable, "model manager is not configured"))
			return
		}
		if msg.ModelID == "" {
			fail(perr.New(perr.ErrorCodeValidation, "modelId is required"))
			return
		}
		var err error
		var done string
		switch msg.Type {
		case MsgDownloadModel:
			err, done = s.models.DownloadModel(msg.ModelID), MsgDownloadStarted
		case MsgCancelDownload:
			err, done = s.models.CancelDownload(msg.ModelID), MsgDownloadCancelled
		default:
			err, done = s.models.DeleteModel(msg.ModelID), MsgModelDeleted
		}
		if err != nil {
			fail(err)
			return
		}
		reply(Message{Type: done, ModelID: msg.ModelID})

	default:
		fail(perr.Newf(perr.ErrorCodeInvalidArgument, "unknown message type %q", msg.Type))
	}
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	req := initRequest{}
	if r.ContentLength != 0 {
		var err error
		if req, err = bindJSON[initRequest](r); err != nil {
			respondError(w, r, err)
			return
		}
	}

	var events []service.StatusEvent
	err := s.pipeline.Initialize(r.Context(), req.Artifacts, func(ev service.StatusEvent) {
		events = append(events, ev)
		s.broadcast(Message{Type: MsgStatus, Status: &ev})
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, initResponse{Events: events})
}

func (s *Server) handleProcessPage(w http.ResponseWriter, r *http.Request) {
	req, err := bindJSON[processPageRequest](r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	profile, _ := ai.ParseProfile(req.Profile)
	cands, err := s.pipeline.ProcessPage(r.Context(), req.Path, req.Page, profile)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, cands)
}

func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	req, err := bindJSON[processAudioRequest](r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	analysis, err := s.pipeline.ProcessAudio(r.Context(), req.Path)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, analysis)
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	s.handleApply(w, r, s.pipeline.ExportPDF)
}

func (s *Server) handleApplyRedactions(w http.ResponseWriter, r *http.Request) {
	s.handleApply(w, r, s.pipeline.RedactAudio)
}

type applyFunc func(ctx context.Context, input, directives, output string) (*service.RedactionResult, error)

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, apply applyFunc) {
	req, err := bindJSON[applyRequest](r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	res, err := apply(r.Context(), req.Input, req.Directives, req.Output)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondOK(w, r, res)
}

// handleUpload сохраняет загруженный файл под случайным именем и возвращает путь
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, perr.Wrap(err, perr.ErrorCodeValidation, "multipart field \"file\" is required"))
		return
	}
	defer file.Close()

	if err := os.MkdirAll(s.opts.UploadDir, 0755); err != nil {
		respondError(w, r, perr.IOf(err, "create upload directory"))
		return
	}
	ext := strings.ToLower(filepath.Ext(header.Filename))
	path := filepath.Join(s.opts.UploadDir, uuid.NewString()+ext)

	out, err := os.Create(path)
	if err != nil {
		respondError(w, r, perr.IOf(err, "create %s", path))
		return
	}
	n, err := io.Copy(out, file)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		respondError(w, r, perr.IOf(err, "store upload"))
		return
	}

	logger.C(r.Context()).Info().Str("name", header.Filename).Str("path", path).Int64("size", n).Msg("file uploaded")
	respondOK(w, r, uploadResponse{Path: path, Size: n})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, s.pipeline.ListModels(r.Context()))
}
