package routes

import (
	"github.com/Parnets19/QuickChat-aws-sub001/internal/config"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/handlers"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/middleware"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/repository"
	"github.com/Parnets19/QuickChat-aws-sub001/internal/services"
	callws "github.com/Parnets19/QuickChat-aws-sub001/internal/websocket"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
)

func RegisterRoutes(app *fiber.App, cfg *config.Config, db *pgxpool.Pool) {
	userRepo := repository.NewUserRepository(db)
	guestRepo := repository.NewGuestRepository(db)
	coachProfileRepo := repository.NewCoachProfileRepository(db)
	callRepo := repository.NewCallRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	exemptionRepo := repository.NewExemptionRepository(db)

	hub := callws.NewHub()
	go hub.Run()

	billingService := services.NewBillingService(db, hub, cfg.CommissionRate, cfg.BillingFailureLimit)
	callService := services.NewCallService(
		db,
		callRepo,
		walletRepo,
		userRepo,
		coachProfileRepo,
		exemptionRepo,
		billingService,
		hub,
		cfg.NoAnswerTimeout,
	)

	authHandler := handlers.NewAuthHandler(db, userRepo, guestRepo, coachProfileRepo, cfg.JWTSecret)
	coachHandler := handlers.NewCoachHandler(coachProfileRepo)
	callHandler := handlers.NewCallHandler(callService, billingService, hub, cfg.JWTSecret)

	api := app.Group("/api")

	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/guest", authHandler.Guest)
	auth.Get("/me", middleware.AuthRequired(cfg.JWTSecret), authHandler.Me)

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	coaches := authProtected.Group("/coaches")
	coaches.Get("", coachHandler.ListOnlineCoaches)
	coaches.Put("/rates", coachHandler.UpdateRates)
	coaches.Put("/online", coachHandler.SetOnline)

	calls := authProtected.Group("/calls")
	calls.Get("/affordability", callHandler.CheckAffordability)
	calls.Post("/start", callHandler.StartCall)
	calls.Get("", callHandler.ListOngoingCalls)
	calls.Get("/:id", callHandler.GetCall)
	calls.Post("/:id/accept", callHandler.AcceptCall)
	calls.Post("/:id/tick", callHandler.Tick)
	calls.Post("/:id/end", callHandler.EndCall)

	app.Get("/ws/calls", callHandler.WebSocketAuth, websocket.New(callHandler.HandleWebSocket))
}
