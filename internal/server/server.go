package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voicelink/voicelink/internal/broker"
	"github.com/voicelink/voicelink/internal/config"
	"github.com/voicelink/voicelink/internal/linker"
	"github.com/voicelink/voicelink/internal/logging"
	"github.com/voicelink/voicelink/internal/monitoring"
	"github.com/voicelink/voicelink/internal/store"
	"github.com/voicelink/voicelink/internal/userdata"
	"github.com/voicelink/voicelink/internal/voice"
)

// VoiceClient is the slice of the API client the HTTP surface needs.
type VoiceClient interface {
	FetchInbox(ctx context.Context) (*voice.InboxResponse, error)
	SendSMS(ctx context.Context, to, text string) error
	MarkRead(ctx context.Context, id string, read bool) error
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ForwardVoicemail(ctx context.Context, id, phone string) error
	ConnectCall(ctx context.Context, outgoing, forwarding string, phoneType int) error
	CancelCall(ctx context.Context) error
	SetAccount(account string)
	SiteURL(uri string) string
}

// Poller is poked by handlers that change what the next cycle sees.
type Poller interface {
	PollNow()
	Reset()
}

// Server wires the HTTP and WebSocket surfaces to the daemon's parts.
type Server struct {
	router  *gin.Engine
	httpSrv *http.Server

	store   *store.Store
	client  VoiceClient
	profile *userdata.Manager
	linker  *linker.Linker
	poller  Poller
	broker  *broker.Broker
	log     *logging.Logger
}

// Deps carries the constructed parts into the server.
type Deps struct {
	Store   *store.Store
	Client  VoiceClient
	Profile *userdata.Manager
	Linker  *linker.Linker
	Poller  Poller
	Broker  *broker.Broker
	Metrics *monitoring.Metrics
	Log     *logging.Logger
}

// New creates the server and registers all routes.
func New(cfg config.ServerConfig, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	if deps.Metrics != nil {
		router.Use(monitoring.Middleware(deps.Metrics))
	}

	s := &Server{
		router:  router,
		store:   deps.Store,
		client:  deps.Client,
		profile: deps.Profile,
		linker:  deps.Linker,
		poller:  deps.Poller,
		broker:  deps.Broker,
		log:     deps.Log,
	}
	s.httpSrv = &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	router.GET("/healthz", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		api.GET("/options", s.GetOptions)
		api.POST("/options", s.SetOptions)
		api.GET("/popup", s.Popup)
		api.GET("/badge", s.Badge)

		api.POST("/call", s.Call)
		api.POST("/call/cancel", s.CancelCall)

		api.POST("/sms", s.SendSMS)
		api.GET("/sms/draft", s.SMSDraft)

		api.GET("/inbox", s.Inbox)
		api.POST("/inbox/mark", s.MarkMessage)
		api.POST("/inbox/archive", s.ArchiveMessage)
		api.POST("/inbox/delete", s.DeleteMessage)
		api.POST("/inbox/voicemail", s.ForwardVoicemail)

		api.POST("/scan", s.Scan)
		api.POST("/selection", s.Selection)
	}

	if deps.Broker != nil {
		router.GET("/ws", deps.Broker.HandleConnection)
	}

	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
