package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/juicebox"
)

// AdminAuth gates the admin routes. A real deployment supplies one backed
// by a JWT bearer token (SPEC_FULL.md §4.L's external admin-login
// collaborator); it resolves the caller's admin session token from the
// request, leaving pkg/adminsession's validity check to Service.
type AdminAuth interface {
	SessionToken(r *http.Request) string
}

// headerTokenAuth reads the session token from the X-Admin-Token header,
// the simplest AdminAuth a deployment with no outer JWT gate can use.
type headerTokenAuth struct{}

func (headerTokenAuth) SessionToken(r *http.Request) string {
	return r.Header.Get("X-Admin-Token")
}

// NewRouter builds the chi router exposing every endpoint in spec.md §6
// plus the supplemented admin/debug endpoints, delegating every decision
// to svc.
func NewRouter(svc *juicebox.Service, admin AdminAuth) http.Handler {
	if admin == nil {
		admin = headerTokenAuth{}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	h := newHandler(svc, admin)

	r.Post("/upload", h.upload)
	r.Route("/chunk", func(r chi.Router) {
		r.Post("/init", h.chunkInit)
		r.Put("/{id}/{index}", h.chunkPut)
		r.Post("/{id}/complete", h.chunkComplete)
		r.Delete("/{id}/cancel", h.chunkCancel)
		r.Get("/{id}/status", h.chunkStatus)
	})
	r.Get("/f/{name}", h.fetch)
	r.Delete("/f/{name}", h.deleteFile)
	r.Get("/list", h.list)
	r.Get("/checkhash", h.checkHash)
	r.Post("/report", h.report)

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.adminLogin)
		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/files", h.adminListFiles)
			r.Delete("/files/{name}", h.adminDeleteFile)
			r.Get("/bans", h.adminListBans)
			r.Post("/bans", h.adminAddBan)
			r.Delete("/bans/{hash}", h.adminRemoveBan)
			r.Get("/debug/stats", h.debugStats)
		})
	})

	return r
}

// requestLogger mirrors the teacher's wrap-response-writer request logging,
// generalized from one fixed API prefix to every juicebox route. It stashes
// a logger.LogContext on the request context so handlers can attach the
// resolved owner hash once ownerHash() computes it, and every *Ctx log line
// for this request picks it up automatically.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		lc := logger.NewLogContext(requestID, r.RemoteAddr)
		ctx := logger.WithContext(r.Context(), lc)
		r = r.WithContext(ctx)

		logger.DebugCtx(ctx, "httpapi: request started", logger.Method(r.Method), logger.Path(r.URL.Path))

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			lc = lc.WithRoute(rctx.RoutePattern())
			ctx = logger.WithContext(ctx, lc)
		}

		logger.InfoCtx(ctx, "httpapi: request completed",
			logger.Method(r.Method),
			logger.Path(r.URL.Path),
			logger.StatusCode(ww.Status()),
			logger.Bytes(ww.BytesWritten()),
			logger.DurationMs(lc.DurationMs()),
		)
	})
}
