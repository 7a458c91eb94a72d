package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	chathttp "github.com/arkadyv/chatcast/adapters/http"
	"github.com/arkadyv/chatcast/adapters/producer"
	"github.com/arkadyv/chatcast/adapters/sqlite"
	"github.com/arkadyv/chatcast/adapters/websocket"
	"github.com/arkadyv/chatcast/config"
	"github.com/arkadyv/chatcast/domain"
	"github.com/arkadyv/chatcast/usecase"
)

var defaultPersonas = []domain.Persona{
	{ID: 1, Key: "sherlock", Name: "Sherlock Holmes"},
	{ID: 2, Key: "yoda", Name: "Yoda"},
	{ID: 3, Key: "pirate", Name: "Captain Flint"},
}

func main() {
	gotenv.Load()
	cfg := config.Load()

	store, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	if err := seedPersonas(store, cfg.PersonaFile); err != nil {
		log.Fatal(err)
	}

	textProducer, err := selectProducer(cfg)
	if err != nil {
		log.Fatal(err)
	}

	hub := websocket.NewHub()
	coordinator := usecase.NewCoordinator(store, textProducer, hub, usecase.Settings{
		ChunkSize:            cfg.ChunkSize,
		ChunkDelay:           cfg.ChunkDelay,
		MaxUserMessageLength: cfg.MaxUserMessageLength,
	})
	gateway := websocket.NewServer(coordinator, hub)

	conversations := usecase.NewConversationService(store)
	handler := chathttp.NewHandler(conversations)

	e := echo.New()

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"}, // In production, specify exact origins
		AllowMethods: []string{echo.GET, echo.POST, echo.PUT, echo.DELETE, echo.OPTIONS},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
		},
		MaxAge: 86400, // 24 hours
	}))
	e.Use(middleware.BodyLimit("1MB"))

	e.GET("/ws", gateway.Handler)

	api := e.Group("/api/v1")
	api.GET("/health", handler.HealthCheck)
	api.GET("/personas", handler.ListPersonas)
	api.POST("/conversations", handler.CreateConversation)
	api.GET("/conversations/:id", handler.GetConversation)
	api.GET("/conversations/:id/messages", handler.ListMessages)
	api.POST("/conversations/:id/messages", handler.SendMessage)
	api.GET("/messages/:id", handler.GetMessage)
	api.PUT("/messages/:id/rating", handler.RateMessage)

	log.Printf("Starting server on %s (producer=%s)", cfg.ListenAddr, cfg.Producer)
	log.Fatal(e.Start(cfg.ListenAddr))
}

func selectProducer(cfg config.Config) (domain.TextProducer, error) {
	switch cfg.Producer {
	case config.ProducerFixed:
		return producer.NewFixedText(), nil
	case config.ProducerSSE:
		return producer.NewShapeshifter(cfg.SSEBaseURL), nil
	case config.ProducerGemini:
		return producer.NewGemini(context.Background())
	default:
		return nil, fmt.Errorf("unknown producer %q", cfg.Producer)
	}
}

// seedPersonas loads the persona seed file when present, falling back to the
// built-in set.
func seedPersonas(store *sqlite.Store, path string) error {
	personas := defaultPersonas
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fromFile []domain.Persona
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return fmt.Errorf("parse persona file %s: %w", path, err)
			}
			if len(fromFile) > 0 {
				personas = fromFile
			}
		case !os.IsNotExist(err):
			return fmt.Errorf("read persona file %s: %w", path, err)
		}
	}
	return store.SeedPersonas(context.Background(), personas)
}
