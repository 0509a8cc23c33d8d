package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"studyroom-backend/internal/ai"
	"studyroom-backend/internal/auth"
	"studyroom-backend/internal/cache"
	"studyroom-backend/internal/config"
	"studyroom-backend/internal/handler"
	"studyroom-backend/internal/middleware"
	"studyroom-backend/internal/room"
)

// Server wires the Fiber app, the room engine, and all handlers.
type Server struct {
	app           *fiber.App
	cfg           *config.Config
	db            *gorm.DB
	redisClient   *cache.RedisClient
	engine        *room.Engine
	roomWSHandler *handler.RoomWSHandler
	roomHandler   *handler.RoomHandler
	authHandler   *handler.AuthHandler
	userHandler   *handler.UserHandler
	aiHandler     *handler.AIHandler
	healthHandler *handler.HealthHandler
	jwtManager    *auth.JWTManager
}

// New creates the server and all of its components.
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "Study Rooms Backend",
		ServerHeader:          "Fiber",
		StrictRouting:         true,
		CaseSensitive:         true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		Prefork:               false, // incompatible with WebSocket state
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             10 * 1024 * 1024, // board image payloads
		DisableStartupMessage: false,
	})

	jwtManager := auth.NewJWTManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	googleAuth := auth.NewGoogleAuthenticator(cfg.Auth.GoogleClientID)

	// Redis is optional: without it rooms work, chat history doesn't.
	var redisClient *cache.RedisClient
	rc, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Printf("⚠️ Redis connection failed: %v (chat history disabled)", err)
	} else {
		redisClient = rc
	}

	// Content generation is optional as well.
	var generator ai.Generator
	var chatGen ai.ChatGenerator
	if cfg.AI.APIKey != "" {
		groq := ai.NewGroqClient(cfg.AI.APIKey, cfg.AI.Model, cfg.AI.BaseURL, cfg.AI.Timeout)
		generator = groq
		chatGen = groq
	} else {
		log.Println("ℹ️ GROQ_API_KEY not set (quiz, flashcard and tutor chat generation disabled)")
	}

	// Engine and socket handler reference each other: the handler feeds
	// inbound frames to the engine and the engine publishes through the
	// handler.
	roomWSHandler := handler.NewRoomWSHandler(redisClient, cfg.WebSocket.WriteTimeout)
	engine := room.NewEngine(room.NewMemoryStore(), room.NewGormLedger(db), roomWSHandler, generator, cfg.AI.Timeout)
	engine.SetOnRoomClosed(roomWSHandler.CleanupRoom)
	roomWSHandler.SetEngine(engine)

	return &Server{
		app:           app,
		cfg:           cfg,
		db:            db,
		redisClient:   redisClient,
		engine:        engine,
		roomWSHandler: roomWSHandler,
		roomHandler:   handler.NewRoomHandler(db, redisClient),
		authHandler:   handler.NewAuthHandler(db, jwtManager, googleAuth, cfg.Auth.SecureCookie),
		userHandler:   handler.NewUserHandler(db),
		aiHandler:     handler.NewAIHandler(generator, chatGen, redisClient),
		healthHandler: handler.NewHealthHandler(db, redisClient),
		jwtManager:    jwtManager,
	}
}

// SetupMiddleware installs the global middleware chain.
func (s *Server) SetupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
		TimeZone:   "UTC",
	}))

	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: true,
	}))
}

// SetupRoutes installs all routes.
func (s *Server) SetupRoutes() {
	s.app.Get("/health", s.healthHandler.Check)
	s.app.Get("/health/live", s.healthHandler.Liveness)
	s.app.Get("/health/ready", s.healthHandler.Readiness)

	authLimiter := limiter.New(limiter.Config{
		Max:        10,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	authGroup := s.app.Group("/auth")
	authGroup.Post("/google", authLimiter, s.authHandler.GoogleLogin)
	authGroup.Post("/refresh", authLimiter, s.authHandler.RefreshToken)
	authGroup.Post("/logout", auth.AuthMiddleware(s.jwtManager), s.authHandler.Logout)
	authGroup.Get("/me", auth.AuthMiddleware(s.jwtManager), s.authHandler.GetMe)

	userGroup := s.app.Group("/api/users", auth.AuthMiddleware(s.jwtManager))
	userGroup.Get("/search", s.userHandler.SearchUsers)

	roomMW := middleware.NewRoomMiddleware(s.db)

	roomGroup := s.app.Group("/api/rooms", auth.AuthMiddleware(s.jwtManager))
	roomGroup.Post("/create", s.roomHandler.CreateRoom)
	roomGroup.Post("/schedule", s.roomHandler.ScheduleRoom)
	roomGroup.Post("/join", s.roomHandler.JoinRoom)
	roomGroup.Get("/upcoming", s.roomHandler.UpcomingRooms)
	roomGroup.Post("/start/:code", roomMW.RequireHost(), s.roomHandler.StartRoom)
	roomGroup.Delete("/cancel/:id", s.roomHandler.CancelRoom)
	roomGroup.Get("/:code", s.roomHandler.GetRoom)
	roomGroup.Get("/:code/messages", roomMW.RequireLiveRoom(), s.roomHandler.RoomMessages)

	aiGroup := s.app.Group("/api/ai", auth.AuthMiddleware(s.jwtManager))
	aiGroup.Post("/flashcards", s.aiHandler.Flashcards)
	aiGroup.Post("/chat", s.aiHandler.Chat)
	aiGroup.Get("/chat/history/:contextId", s.aiHandler.ChatHistory)
	aiGroup.Get("/chat/conversations", s.aiHandler.Conversations)

	// Room WebSocket. Intentionally unauthenticated: guests join with
	// just a code, like the rest of the realtime surface.
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/rooms", websocket.New(s.roomWSHandler.HandleWebSocket, websocket.Config{
		ReadBufferSize:   s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize:  s.cfg.WebSocket.WriteBufferSize,
		HandshakeTimeout: s.cfg.WebSocket.HandshakeTimeout,
	}))
}

// Start runs the server until SIGINT/SIGTERM.
func (s *Server) Start() error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Study Rooms Backend starting on %s", s.cfg.Server.Port)
	log.Printf("📡 Room WebSocket endpoint: ws://localhost%s/ws/rooms", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown stops the server and closes the Redis connection.
func (s *Server) Shutdown() error {
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Printf("[Redis] Close failed: %v", err)
		}
	}
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
