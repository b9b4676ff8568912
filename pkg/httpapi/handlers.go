package httpapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/chunkupload"
	"github.com/marmos91/juicebox/pkg/juicebox"
	"github.com/marmos91/juicebox/pkg/juicebox/errs"
	"github.com/marmos91/juicebox/pkg/singleupload"
)

// maxMultipartMemory bounds how much of a multipart request is buffered in
// memory before spilling to temp files; the pipeline itself works over
// already-decoded []byte parts (spec §1: multipart parsing is a transport
// concern, not the core's).
const maxMultipartMemory = 32 << 20

type handler struct {
	svc   *juicebox.Service
	admin AdminAuth
}

func newHandler(svc *juicebox.Service, admin AdminAuth) *handler {
	return &handler{svc: svc, admin: admin}
}

// ownerHash resolves the caller's fingerprint, honoring the configured
// TrustedProxyPolicy, and rejects banned callers before any handler-specific
// work runs.
func (h *handler) ownerHash(w http.ResponseWriter, r *http.Request) (string, bool) {
	addr, err := h.svc.ProxyPolicy().ResolveClientAddr(r)
	if err != nil {
		WriteError(w, errs.Wrap("invalid_ip", "could not resolve client address", err))
		return "", false
	}
	if h.svc.IsBanned(addr) {
		WriteError(w, errs.New("banned", "this address is banned"))
		return "", false
	}
	hash, err := h.svc.ResolveOwnerHash(addr)
	if err != nil {
		WriteError(w, err)
		return "", false
	}
	if lc := logger.FromContext(r.Context()); lc != nil {
		*lc = *lc.WithOwnerHash(hash)
	}
	return hash, true
}

func (h *handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.admin.SessionToken(r)
		if !h.svc.AdminIsAdmin(token) {
			WriteError(w, errs.New("not_admin", "admin session required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type uploadResponse struct {
	Files        []string `json:"files"`
	Truncated    bool     `json:"truncated"`
	Remaining    int      `json:"remaining"`
	LimitReached bool     `json:"limit_reached"`
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		WriteError(w, errs.Wrap("bad_file", "could not parse multipart form", err))
		return
	}
	ttlCode := r.FormValue("ttl")

	var parts []singleupload.FilePart
	for _, headers := range r.MultipartForm.File {
		for _, fh := range headers {
			f, err := fh.Open()
			if err != nil {
				WriteError(w, errs.Wrap("bad_file", "could not open uploaded part", err))
				return
			}
			data, err := io.ReadAll(f)
			f.Close()
			if err != nil {
				WriteError(w, errs.Wrap("bad_file", "could not read uploaded part", err))
				return
			}
			parts = append(parts, singleupload.FilePart{OriginalName: fh.Filename, Data: data})
		}
	}

	result, err := h.svc.Upload(r.Context(), owner, parts, ttlCode)
	if err != nil {
		writeDuplicateOrError(w, err)
		return
	}
	WriteJSONOK(w, uploadResponse{
		Files:        result.Files,
		Truncated:    result.Truncated,
		Remaining:    result.Remaining,
		LimitReached: result.LimitReached,
	})
}

// writeDuplicateOrError writes the dedup-specific 409 body spec §6 defines
// when err carries a DuplicateError, otherwise delegates to WriteError.
func writeDuplicateOrError(w http.ResponseWriter, err error) {
	type dup interface {
		error
		Code() string
	}
	if d, ok := err.(dup); ok && d.Code() == "duplicate" {
		name, meta := duplicateDetail(err)
		WriteJSON(w, http.StatusConflict, map[string]any{
			"duplicate": true,
			"file":      name,
			"meta":      meta,
		})
		return
	}
	WriteError(w, err)
}

func duplicateDetail(err error) (string, catalog.FileMeta) {
	switch e := err.(type) {
	case *singleupload.DuplicateError:
		return e.StorageName, e.Meta
	case *chunkupload.DuplicateError:
		return e.StorageName, e.Meta
	default:
		return "", catalog.FileMeta{}
	}
}

type chunkInitRequest struct {
	Filename     string `json:"filename"`
	Size         int64  `json:"size"`
	TTL          string `json:"ttl"`
	ChunkSize    int64  `json:"chunk_size"`
	DeclaredHash string `json:"declared_hash"`
}

type chunkInitResponse struct {
	SessionID   string `json:"session_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Expires     int64  `json:"expires"`
	StorageName string `json:"storage_name"`
}

func (h *handler) chunkInit(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	var req chunkInitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	res, err := h.svc.InitChunk(r.Context(), owner, req.Filename, req.Size, req.TTL, req.ChunkSize, req.DeclaredHash)
	if err != nil {
		writeDuplicateOrError(w, err)
		return
	}
	WriteJSONOK(w, chunkInitResponse{
		SessionID:   res.SessionID,
		ChunkSize:   res.ChunkSize,
		TotalChunks: res.TotalChunks,
		Expires:     res.Expires,
		StorageName: res.StorageName,
	})
}

func (h *handler) chunkPut(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteError(w, errs.New("chunk_index", "chunk index must be an integer"))
		return
	}
	if err := h.svc.PutChunk(r.Context(), owner, sessionID, index, r.Body); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

func (h *handler) chunkComplete(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	sessionID := chi.URLParam(r, "id")
	var req struct {
		DeclaredHash string `json:"declared_hash"`
	}
	if r.ContentLength != 0 {
		if !decodeJSONBody(w, r, &req) {
			return
		}
	}
	res, err := h.svc.CompleteChunk(r.Context(), owner, sessionID, req.DeclaredHash)
	if err != nil {
		writeDuplicateOrError(w, err)
		return
	}
	WriteJSONOK(w, uploadResponse{Files: res.Files, Truncated: res.Truncated, Remaining: res.Remaining})
}

func (h *handler) chunkCancel(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	if err := h.svc.CancelChunk(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

func (h *handler) chunkStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	res, err := h.svc.StatusChunk(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, struct {
		TotalChunks     int  `json:"total_chunks"`
		AssembledChunks int  `json:"assembled_chunks"`
		Completed       bool `json:"completed"`
	}{res.TotalChunks, res.AssembledChunks, res.Completed})
}

func (h *handler) fetch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	body, meta, err := h.svc.Fetch(r.Context(), name)
	if err != nil {
		WriteError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", `inline; filename="`+meta.Original+`"`)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, body)
}

func (h *handler) deleteFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteFile(r.Context(), chi.URLParam(r, "name"), owner); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	result, err := h.svc.List(r.Context(), owner)
	if err != nil {
		WriteError(w, err)
		return
	}
	resp := map[string]any{
		"files": result.Files,
		"metas": result.Metas,
	}
	if !result.Reconcile.Empty() {
		resp["reconcile"] = result.Reconcile
	}
	WriteJSONOK(w, resp)
}

func (h *handler) checkHash(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	WriteJSONOK(w, struct {
		Exists bool `json:"exists"`
	}{h.svc.CheckHash(hash)})
}

type reportRequest struct {
	File    string `json:"file"`
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

func (h *handler) report(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerHash(w, r)
	if !ok {
		return
	}
	var req reportRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.File == "" || req.Reason == "" {
		WriteError(w, errs.New("missing", "file and reason are required"))
		return
	}
	h.svc.Report(r.Context(), req.File, req.Reason, req.Details, owner)
	WriteNoContent(w)
}

func (h *handler) adminLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if !h.svc.AdminVerifyKey(req.Key) {
		WriteError(w, errs.New("invalid_key", "invalid admin key"))
		return
	}
	token, err := h.svc.AdminCreateSession(r.Context())
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, struct {
		Token string `json:"token"`
	}{token})
}

func (h *handler) adminListFiles(w http.ResponseWriter, r *http.Request) {
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 100
	}
	entries, total := h.svc.AdminListFiles(offset, limit)
	WriteJSONOK(w, struct {
		Files []juicebox.AdminFileEntry `json:"files"`
		Total int                       `json:"total"`
	}{entries, total})
}

func (h *handler) adminDeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AdminDeleteFile(r.Context(), chi.URLParam(r, "name")); err != nil {
		WriteError(w, err)
		return
	}
	WriteNoContent(w)
}

func (h *handler) adminListBans(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.svc.AdminListBans())
}

type adminAddBanRequest struct {
	Subject string `json:"subject"`
	Label   string `json:"label"`
	Reason  string `json:"reason"`
}

func (h *handler) adminAddBan(w http.ResponseWriter, r *http.Request) {
	var req adminAddBanRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	ban, err := h.svc.AdminAddBan(r.Context(), req.Subject, req.Label, req.Reason)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSONOK(w, ban)
}

func (h *handler) adminRemoveBan(w http.ResponseWriter, r *http.Request) {
	h.svc.AdminRemoveBan(r.Context(), chi.URLParam(r, "hash"))
	WriteNoContent(w)
}

func (h *handler) debugStats(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.svc.DebugStats())
}
