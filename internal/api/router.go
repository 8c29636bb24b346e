package api

import (
	"net/http" // HTTP status codes
	"time"     // Rate limit window

	"mlm_ledger/internal/audit"      // Attribution audit documents
	"mlm_ledger/internal/commission" // Attribution engine
	"mlm_ledger/internal/ledger"     // Ledger writer
	"mlm_ledger/internal/middleware" // Auth and metrics middleware
	"mlm_ledger/internal/tasks"      // Reconcile queue
	"mlm_ledger/internal/utils"      // Utility functions

	ratelimit "github.com/JGLTechnologies/gin-rate-limit"     // Redis-backed rate limiting
	"github.com/gin-contrib/cors"                             // CORS middleware
	"github.com/gin-gonic/gin"                                // Gin web framework
	"github.com/prometheus/client_golang/prometheus/promhttp" // Metrics endpoint
	"github.com/redis/go-redis/v9"                            // Redis client
	"gorm.io/gorm"                                            // GORM ORM library
)

// Deps is everything the HTTP layer needs
type Deps struct {
	DB          *gorm.DB
	Redis       *redis.Client
	Writer      *ledger.Writer
	Engine      *commission.Engine
	Audit       audit.Sink
	Enqueuer    tasks.Enqueuer
	JWTSecret   string
	CORSOrigins []string
	RateLimit   uint // Requests per second per client on public routes, 0 disables
}

func keyFunc(c *gin.Context) string {
	return c.ClientIP()
}

func rateLimitExceeded(c *gin.Context, info ratelimit.Info) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "Too many requests. Try again in " + time.Until(info.ResetTime).Round(time.Second).String(),
	})
}

// NewRouter wires every route. Cached wallet views are dropped after each ledger commit.
func NewRouter(d Deps) *gin.Engine {
	d.Writer.OnCommit(utils.CommitInvalidator(d.Redis))

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), middleware.MetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  d.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", IdempotencyHeader},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        24 * time.Hour,
	}))

	var limited gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if d.RateLimit > 0 {
		store := ratelimit.RedisStore(&ratelimit.RedisOptions{
			RedisClient: d.Redis,
			Rate:        time.Second,
			Limit:       d.RateLimit,
		})
		limited = ratelimit.RateLimiter(store, &ratelimit.Options{
			ErrorHandler: rateLimitExceeded,
			KeyFunc:      keyFunc,
		})
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth routes
	r.POST("/user", limited, RegisterHandler(d.DB, d.Redis))
	r.GET("/user", limited, LoginHandler(d.DB, d.JWTSecret))
	r.GET("/commission-rates", limited, CommissionRatesHandler(d.DB, d.Redis))

	auth := middleware.JWTAuthMiddleware(d.JWTSecret)
	active := middleware.ActiveUserMiddleware(d.DB)

	walletGroup := r.Group("/wallet", auth, active)
	walletGroup.GET("", GetWalletHandler(d.Writer, d.Redis))
	walletGroup.GET("/transactions", GetTransactionHistoryHandler(d.DB, d.Redis))
	walletGroup.POST("/withdrawals", RequestWithdrawalHandler(d.Writer))
	walletGroup.GET("/withdrawals", ListMyWithdrawalsHandler(d.DB))

	purchaseGroup := r.Group("/purchases", auth, active)
	purchaseGroup.POST("", PurchaseHandler(d.Engine))
	purchaseGroup.GET("", ListMyPurchasesHandler(d.DB))

	referralGroup := r.Group("/referrals", auth, active)
	referralGroup.GET("/network", NetworkHandler(d.DB, d.Redis))
	referralGroup.GET("/upline", UplineHandler(d.DB))

	// Admin routes (protected, admin only)
	adminGroup := r.Group("/admin", auth, middleware.AdminOnlyMiddleware(d.DB))
	adminGroup.GET("/users", ListUsersHandler(d.DB, d.Redis))
	adminGroup.PUT("/users/:id/status", UpdateUserStatusHandler(d.DB, d.Redis))
	adminGroup.PUT("/users/:id/sponsor", ChangeSponsorHandler(d.DB, d.Redis))
	adminGroup.POST("/users/:id/payments", ManualPaymentHandler(d.Writer))
	adminGroup.GET("/transactions", ListTransactionsHandler(d.DB))
	adminGroup.GET("/commission-settings", ListCommissionSettingsHandler(d.DB))
	adminGroup.PUT("/commission-settings/:level", UpdateCommissionSettingHandler(d.DB, d.Redis))
	adminGroup.GET("/withdrawals", ListWithdrawalsHandler(d.DB))
	adminGroup.POST("/withdrawals/:id/approve", ApproveWithdrawalHandler(d.Writer))
	adminGroup.POST("/withdrawals/:id/reject", RejectWithdrawalHandler(d.Writer))
	adminGroup.POST("/purchases/:id/attribute", AttributePurchaseHandler(d.Engine))
	adminGroup.GET("/escrow", ListEscrowHandler(d.DB))
	adminGroup.GET("/ledger/drift", DriftHandler(d.Writer))
	adminGroup.POST("/ledger/reconcile", ReconcileHandler(d.Enqueuer))
	adminGroup.GET("/audit/:event_key", AuditHandler(d.Audit))

	return r
}
