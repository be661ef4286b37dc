package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"zapcrm/internal/ai"
	"zapcrm/internal/api"
	"zapcrm/internal/auth"
	"zapcrm/internal/automation"
	"zapcrm/internal/billing"
	"zapcrm/internal/config"
	"zapcrm/internal/database"
	"zapcrm/internal/geo"
	"zapcrm/internal/permissions"
	"zapcrm/internal/realtime"
	"zapcrm/internal/speech"
	"zapcrm/internal/storage"
	"zapcrm/internal/webhook"
	"zapcrm/internal/whatsapp"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func main() {
	cfg := config.LoadConfig()
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	database.SyncConfig(db, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	go hub.Run(ctx)
	if err := db.Use(realtime.NewPlugin(hub)); err != nil {
		log.Fatalf("Failed to register realtime plugin: %v", err)
	}

	geoCache, err := geo.NewCache(cfg.GeoCachePath)
	if err != nil {
		log.Fatalf("Failed to open geo cache: %v", err)
	}
	defer geoCache.Close()

	store, err := storage.NewDiskStore(cfg.StorageDir, cfg.StoragePublicURL)
	if err != nil {
		log.Fatalf("Failed to prepare storage: %v", err)
	}

	whatsappClient := whatsapp.NewClient(cfg)
	automationEngine := automation.NewEngine(db, whatsappClient)
	billingClient := billing.NewClient(cfg)

	webhookHandler := webhook.NewHandler(db, cfg, automationEngine, hub)
	billingHandler := api.NewBillingHandler(db, billingClient)
	paymentHandler := webhook.NewPaymentHandler(cfg.StripeWebhookSecret, billingHandler.Service)

	contactHandler := api.NewContactHandler(db, whatsappClient)
	tagHandler := api.NewTagHandler(db)
	fieldHandler := api.NewCustomFieldHandler(db)
	conversationHandler := api.NewConversationHandler(db, whatsappClient)
	funnelHandler := api.NewFunnelHandler(db)
	templateHandler := api.NewTemplateHandler(db)
	broadcastHandler := api.NewBroadcastHandler(db, whatsappClient, hub)
	whatsappHandler := api.NewWhatsAppHandler(db, whatsappClient)
	warmingHandler := api.NewWarmingHandler(db)
	automationHandler := api.NewAutomationHandler(db)
	agentHandler := api.NewAIAgentHandler(db)
	activityHandler := api.NewActivityHandler(db)
	dashboardHandler := api.NewDashboardHandler(db)
	settingsHandler := api.NewSettingsHandler(db, cfg)
	speechHandler := api.NewSpeechHandler(speech.NewClient(cfg, store))
	aiHandler := api.NewAIHandler(db, ai.NewClient(cfg))
	geoHandler := api.NewGeoHandler(geo.NewClient(cfg.IBGEAPIURL, geoCache))

	authMiddleware := auth.NewMiddleware(cfg.JWTSecret)
	perms := permissions.NewChecker(db)
	need := perms.RequirePermission
	platform := auth.PlatformOnly(cfg.PlatformOrgID)

	r := gin.Default()
	r.Use(auth.CORS(cfg.CORSOrigin))
	r.Static("/storage", cfg.StorageDir)

	// Webhook Routes
	r.POST("/webhook/gateway", webhookHandler.HandleGateway)
	r.POST("/webhook/stripe", paymentHandler.HandleStripe)

	apiGroup := r.Group("/api")
	apiGroup.Use(authMiddleware.AuthRequired(), authMiddleware.RateLimitPerUser(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst))
	{
		apiGroup.GET("/realtime", hub.Handle)
		apiGroup.GET("/me/permissions", perms.Mine)

		// Dashboard
		apiGroup.GET("/dashboard", need(permissions.Dashboard), dashboardHandler.GetStats)
		apiGroup.GET("/dashboard/sla", need(permissions.Reports), dashboardHandler.GetSLA)

		// CRM Routes
		contacts := apiGroup.Group("/contacts", need(permissions.Contacts))
		{
			contacts.GET("", contactHandler.GetContacts)
			contacts.POST("", contactHandler.CreateContact)
			contacts.GET("/export", need(permissions.Export), contactHandler.ExportContacts)
			contacts.GET("/export.xlsx", need(permissions.Export), contactHandler.ExportContactsXLSX)
			contacts.GET("/:id", contactHandler.GetContact)
			contacts.PUT("/:id", contactHandler.UpdateContact)
			contacts.DELETE("/:id", contactHandler.DeleteContact)
			contacts.POST("/:id/avatar", contactHandler.RefreshAvatar)
		}

		tags := apiGroup.Group("/tags", need(permissions.Contacts))
		{
			tags.GET("", tagHandler.GetTags)
			tags.POST("", tagHandler.CreateTag)
			tags.PUT("/:id", tagHandler.UpdateTag)
			tags.DELETE("/:id", tagHandler.DeleteTag)
			tags.POST("/:id/assign", tagHandler.AssignTag)
			tags.POST("/:id/unassign", tagHandler.UnassignTag)
		}
		apiGroup.GET("/targets/:type/:id/tags", need(permissions.Contacts), tagHandler.GetTargetTags)

		fields := apiGroup.Group("/custom-fields", need(permissions.Settings))
		{
			fields.GET("", fieldHandler.GetFields)
			fields.POST("", fieldHandler.CreateField)
			fields.PUT("/:id", fieldHandler.UpdateField)
			fields.DELETE("/:id", fieldHandler.DeleteField)
		}

		// Inbox
		conversations := apiGroup.Group("/conversations", need(permissions.Conversations))
		{
			conversations.GET("", conversationHandler.GetConversations)
			conversations.GET("/:id/messages", conversationHandler.GetMessages)
			conversations.POST("/:id/messages", conversationHandler.SendMessage)
			conversations.POST("/:id/read", conversationHandler.MarkRead)
		}

		// Funnels and deals
		funnels := apiGroup.Group("/funnels", need(permissions.Funnels))
		{
			funnels.GET("", funnelHandler.GetFunnels)
			funnels.POST("", funnelHandler.CreateFunnel)
			funnels.PUT("/:id", funnelHandler.UpdateFunnel)
			funnels.DELETE("/:id", funnelHandler.DeleteFunnel)
			funnels.POST("/:id/stages", funnelHandler.CreateStage)
			funnels.PUT("/:id/stages/order", funnelHandler.ReorderStages)
			funnels.GET("/:id/metrics", need(permissions.Reports), funnelHandler.GetMetrics)
			funnels.GET("/:id/deals.xlsx", need(permissions.Export), funnelHandler.ExportDealsXLSX)
		}
		stages := apiGroup.Group("/stages", need(permissions.Funnels))
		{
			stages.PUT("/:stageId", funnelHandler.UpdateStage)
			stages.DELETE("/:stageId", funnelHandler.DeleteStage)
		}
		deals := apiGroup.Group("/deals", need(permissions.Deals))
		{
			deals.GET("", funnelHandler.GetDeals)
			deals.POST("", funnelHandler.CreateDeal)
			deals.PUT("/:id", funnelHandler.UpdateDeal)
			deals.POST("/:id/move", funnelHandler.MoveDeal)
			deals.DELETE("/:id", funnelHandler.DeleteDeal)
		}

		// Templates and campaigns
		templates := apiGroup.Group("/templates", need(permissions.Templates))
		{
			templates.GET("", templateHandler.GetTemplates)
			templates.POST("", templateHandler.CreateTemplate)
			templates.PUT("/:id", templateHandler.UpdateTemplate)
			templates.POST("/:id/submit", templateHandler.SubmitTemplate)
			templates.POST("/:id/status", auth.AdminOnly(), templateHandler.UpdateStatus)
			templates.DELETE("/:id", templateHandler.DeleteTemplate)
		}
		campaigns := apiGroup.Group("/campaigns", need(permissions.Campaigns))
		{
			campaigns.GET("", broadcastHandler.GetCampaigns)
			campaigns.POST("", broadcastHandler.CreateCampaign)
			campaigns.GET("/:id", broadcastHandler.GetCampaign)
			campaigns.POST("/:id/run", broadcastHandler.RunCampaign)
		}

		// WhatsApp instances
		instances := apiGroup.Group("/instances", need(permissions.Instances))
		{
			instances.GET("", whatsappHandler.GetInstances)
			instances.POST("", whatsappHandler.CreateInstance)
			instances.GET("/:id/qr", whatsappHandler.GetQRCode)
			instances.GET("/:id/qr.png", whatsappHandler.GetQRCodePNG)
			instances.POST("/:id/connect", whatsappHandler.Connect)
			instances.POST("/:id/refresh", whatsappHandler.Refresh)
			instances.POST("/:id/logout", whatsappHandler.Logout)
			instances.DELETE("/:id", whatsappHandler.DeleteInstance)
		}

		warmingGroup := apiGroup.Group("/warming", need(permissions.Warming))
		{
			warmingGroup.GET("", warmingHandler.GetSchedules)
			warmingGroup.POST("", warmingHandler.CreateSchedule)
			warmingGroup.POST("/advance", platform, warmingHandler.Advance)
			warmingGroup.POST("/:id/pause", warmingHandler.Pause)
			warmingGroup.POST("/:id/resume", warmingHandler.Resume)
			warmingGroup.DELETE("/:id", warmingHandler.DeleteSchedule)
		}

		// Automation Routes
		automationGroup := apiGroup.Group("/automation", need(permissions.Chatbots))
		{
			automationGroup.GET("/rules", automationHandler.GetRules)
			automationGroup.POST("/rules", automationHandler.CreateRule)
			automationGroup.PUT("/rules/:id", automationHandler.UpdateRule)
			automationGroup.DELETE("/rules/:id", automationHandler.DeleteRule)
			automationGroup.POST("/rules/:id/toggle", automationHandler.ToggleRule)
			automationGroup.GET("/logs", automationHandler.GetLogs)
			automationGroup.GET("/analytics", automationHandler.GetAnalytics)

			automationGroup.GET("/flows", automationHandler.GetFlows)
			automationGroup.POST("/flows", automationHandler.CreateFlow)
			automationGroup.GET("/flows/:id", automationHandler.GetFlow)
			automationGroup.PUT("/flows/:id", automationHandler.UpdateFlow)
			automationGroup.DELETE("/flows/:id", automationHandler.DeleteFlow)

			automationGroup.GET("/sessions", automationHandler.GetActiveSessions)
			automationGroup.POST("/sessions/:id/terminate", automationHandler.TerminateSession)
		}

		agents := apiGroup.Group("/agents", need(permissions.AIAgents))
		{
			agents.GET("", agentHandler.GetAgents)
			agents.POST("", agentHandler.CreateAgent)
			agents.GET("/:id", agentHandler.GetAgent)
			agents.PUT("/:id", agentHandler.UpdateAgent)
			agents.DELETE("/:id", agentHandler.DeleteAgent)
		}
		apiGroup.POST("/ai/classify", need(permissions.AIAgents), aiHandler.Classify)
		apiGroup.POST("/ai/generate", need(permissions.AIAgents), aiHandler.Generate)
		apiGroup.GET("/speech/voices", need(permissions.AIAgents), speechHandler.GetVoices)
		apiGroup.POST("/speech", need(permissions.AIAgents), speechHandler.Synthesize)

		// Team activity
		apiGroup.POST("/activity/start", activityHandler.StartSession)
		apiGroup.POST("/activity/end", activityHandler.EndSession)
		apiGroup.GET("/activity/current", activityHandler.CurrentSession)
		apiGroup.GET("/activity/report", need(permissions.Team), activityHandler.Report)

		// Billing
		apiGroup.GET("/billing/plans", billingHandler.GetPlans)
		apiGroup.POST("/billing/checkout", need(permissions.Billing), billingHandler.Checkout)
		apiGroup.GET("/billing/subscription", need(permissions.Billing), billingHandler.GetSubscription)
		apiGroup.GET("/billing/metrics", platform, billingHandler.GetMetrics)

		apiGroup.GET("/settings", platform, settingsHandler.GetSettings)
		apiGroup.PUT("/settings", platform, settingsHandler.UpdateSetting)

		// Brazilian localities
		apiGroup.GET("/geo/states/:uf/municipalities", geoHandler.Municipalities)
		apiGroup.GET("/geo/municipalities/:id/districts", geoHandler.Districts)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to run server: %v", err)
	}
}
