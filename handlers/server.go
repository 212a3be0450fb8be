package handlers

import (
	"context"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/NMMonteiro/apps4eu-marketplace/internal/billing"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/email"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/fulfillment"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/identity"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/metrics"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/objectstore"
	"github.com/NMMonteiro/apps4eu-marketplace/internal/ratelimit"
	"github.com/NMMonteiro/apps4eu-marketplace/storage"
)

// IdentityProvider is the part of the identity service the HTTP layer uses.
type IdentityProvider interface {
	UserFromToken(ctx context.Context, token string) (*identity.User, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password string) (*identity.SignUpResult, error)
	VerifyOTP(ctx context.Context, tokenHash, otpType string) (*identity.Session, error)

	ListUsers(ctx context.Context, perPage int) ([]*identity.User, error)
	CreateUser(ctx context.Context, email, password string, admin bool) (*identity.User, error)
	UpdateUserRole(ctx context.Context, id string, admin bool) (*identity.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// Deps carries every collaborator of the HTTP layer. Presigner may be nil,
// which disables downloads.
type Deps struct {
	Storage     storage.Storage
	Identity    IdentityProvider
	Gateway     billing.Gateway
	Checkout    *billing.CheckoutService
	Fulfillment *fulfillment.Service
	Presigner   objectstore.Presigner
	Mailer      email.Sender
	Metrics     *metrics.Metrics
	Limiter     ratelimit.RateLimit

	SiteURL        string
	Currency       string
	DownloadTTL    time.Duration
	AllowedOrigins []string
	VersionFile    string
}

type Server struct {
	Router  chi.Router
	Handler http.Handler

	storage     storage.Storage
	identity    IdentityProvider
	gateway     billing.Gateway
	checkout    *billing.CheckoutService
	fulfillment *fulfillment.Service
	presigner   objectstore.Presigner
	mailer      email.Sender
	metrics     *metrics.Metrics
	limiter     ratelimit.RateLimit

	siteURL     string
	downloadTTL time.Duration
	versionFile string
	now         func() time.Time
}

func NewHttpServer(deps Deps) *Server {
	s := &Server{
		storage:     deps.Storage,
		identity:    deps.Identity,
		gateway:     deps.Gateway,
		checkout:    deps.Checkout,
		fulfillment: deps.Fulfillment,
		presigner:   deps.Presigner,
		mailer:      deps.Mailer,
		metrics:     deps.Metrics,
		limiter:     deps.Limiter,
		siteURL:     deps.SiteURL,
		downloadTTL: deps.DownloadTTL,
		versionFile: deps.VersionFile,
		now:         time.Now,
	}
	if s.mailer == nil {
		s.mailer = email.LogSender{}
	}
	if s.checkout == nil {
		s.checkout = billing.NewCheckoutService(deps.Storage, deps.Gateway, deps.SiteURL, deps.Currency)
	}
	if s.fulfillment == nil {
		s.fulfillment = fulfillment.New(deps.Storage, s.mailer, deps.Metrics, deps.SiteURL)
	}
	if s.downloadTTL <= 0 {
		s.downloadTTL = objectstore.DefaultTTL
	}
	if s.versionFile == "" {
		s.versionFile = "VERSION"
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle,
		s.instrument,
	)
	if len(deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   deps.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(s.authenticate)

	r.HandleFunc("/health", s.Health)
	r.Handle("/metrics", s.metrics.Handler())

	r.Get("/auth/confirm", s.ConfirmEmail)
	r.Get("/marketplace/demo/{id}", s.DemoPage)
	r.With(s.requireUser(true)).Get("/download/{productID}", s.Download)
	r.Route("/dashboard", func(r chi.Router) {
		r.Use(s.requireUser(true))
		r.Get("/", s.Dashboard)
		r.Get("/vault", s.Vault)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/stripe", s.StripeWebhook)
		r.Post("/licenses/validate", s.ValidateLicense)

		r.Get("/products", s.ListProducts)
		r.Get("/products/{id}", s.GetProduct)

		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/checkout", s.Checkout)
			r.Post("/auth/login", s.Login)
			r.Post("/auth/signup", s.Signup)
		})
		r.Post("/auth/logout", s.Logout)

		r.Group(func(r chi.Router) {
			r.Use(s.requireUser(false))
			r.Get("/me/licenses", s.MyLicenses)
			r.Get("/downloads/{productID}", s.Download)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Get("/products", s.AdminListProducts)
			r.Post("/products", s.AdminCreateProduct)
			r.Put("/products/{id}", s.AdminUpdateProduct)
			r.Delete("/products/{id}", s.AdminDeleteProduct)

			r.Get("/transactions", s.AdminListTransactions)

			r.Get("/users", s.AdminListUsers)
			r.Post("/users", s.AdminCreateUser)
			r.Put("/users/{id}/role", s.AdminUpdateUserRole)
			r.Delete("/users/{id}", s.AdminDeleteUser)

			r.Get("/email-templates/{slug}", s.AdminGetEmailTemplate)
			r.Put("/email-templates/{slug}", s.AdminSaveEmailTemplate)
		})
	})

	s.Router = r
	s.Handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Handler.ServeHTTP(w, r)
}
