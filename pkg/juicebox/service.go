package juicebox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/juicebox/internal/bytesize"
	"github.com/marmos91/juicebox/internal/fingerprint"
	"github.com/marmos91/juicebox/internal/logger"
	"github.com/marmos91/juicebox/pkg/adminsession"
	"github.com/marmos91/juicebox/pkg/admission"
	"github.com/marmos91/juicebox/pkg/banindex"
	"github.com/marmos91/juicebox/pkg/blobstore"
	"github.com/marmos91/juicebox/pkg/blobstore/localfs"
	"github.com/marmos91/juicebox/pkg/blobstore/s3"
	"github.com/marmos91/juicebox/pkg/catalog"
	"github.com/marmos91/juicebox/pkg/chunkupload"
	"github.com/marmos91/juicebox/pkg/config"
	"github.com/marmos91/juicebox/pkg/gc"
	"github.com/marmos91/juicebox/pkg/juicebox/errs"
	"github.com/marmos91/juicebox/pkg/kv"
	"github.com/marmos91/juicebox/pkg/kv/badgerstore"
	"github.com/marmos91/juicebox/pkg/kv/fsstore"
	"github.com/marmos91/juicebox/pkg/metrics"
	"github.com/marmos91/juicebox/pkg/quota"
	"github.com/marmos91/juicebox/pkg/reconcile"
	"github.com/marmos91/juicebox/pkg/reportlog"
	"github.com/marmos91/juicebox/pkg/singleupload"
)

// catalogView adapts *catalog.Catalog to quota.CatalogView: the accountant
// only needs OwnerHash/Expires/Size, not the full FileMeta or storage name.
type catalogView struct {
	cat *catalog.Catalog
}

func (v catalogView) Iter() []quota.CatalogEntry {
	entries := v.cat.Iter()
	out := make([]quota.CatalogEntry, len(entries))
	for i, e := range entries {
		out[i] = quota.CatalogEntry{
			OwnerHash: e.Meta.OwnerHash,
			Expires:   e.Meta.Expires,
			Size:      e.Meta.Size,
		}
	}
	return out
}

// Service wires every component (§4.A-L) behind one facade. pkg/httpapi
// (or any other transport) calls only into Service; it never reaches past
// it into a subsystem directly.
type Service struct {
	cfg *config.Config

	fp       *fingerprint.Service
	store    kv.Store
	blobs    blobstore.Backend
	catalog  *catalog.Catalog
	quota    *quota.Accountant
	bans     *banindex.Index
	sem      *admission.Semaphore
	chunks   *chunkupload.Manager
	single   *singleupload.Pipeline
	gcLoop   *gc.Loop
	reports  *reportlog.Log
	admins   *adminsession.Store
	metrics  *metrics.Metrics

	cachePurger   CachePurger
	abuseNotifier AbuseNotifier
	proxyPolicy   TrustedProxyPolicy

	startOnce sync.Once
	cancel    context.CancelFunc
}

// Option configures optional outer collaborators on New.
type Option func(*Service)

// WithCachePurger overrides the default no-op CachePurger.
func WithCachePurger(p CachePurger) Option {
	return func(s *Service) { s.cachePurger = p }
}

// WithAbuseNotifier overrides the default no-op AbuseNotifier.
func WithAbuseNotifier(n AbuseNotifier) Option {
	return func(s *Service) { s.abuseNotifier = n }
}

// WithTrustedProxyPolicy overrides the default direct-RemoteAddr policy.
func WithTrustedProxyPolicy(p TrustedProxyPolicy) Option {
	return func(s *Service) { s.proxyPolicy = p }
}

// WithMetrics attaches a *metrics.Metrics instance; a nil Metrics (the
// default) makes every recording call a no-op.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// resolveHashSecret decides which bytes key every fingerprint this process
// computes. An explicitly configured secret is decoded as hex/base64 when
// possible (the shape `juicebox init` writes), falling back to its raw
// bytes for an operator-supplied passphrase. Left unconfigured, the secret
// is persisted under the data directory so it survives restarts of a
// single instance; horizontal scaling still requires setting hash_secret
// explicitly so every instance shares it.
func resolveHashSecret(cfg *config.Config) ([]byte, error) {
	if cfg.HashSecret != "" {
		if decoded, err := fingerprint.DecodeSecret(cfg.HashSecret); err == nil {
			return decoded, nil
		}
		return []byte(cfg.HashSecret), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("juicebox: create data dir: %w", err)
	}
	path := filepath.Join(cfg.DataDir, ".hash_secret")
	secret, generated, err := fingerprint.LoadOrGenerateSecret(path)
	if err != nil {
		return nil, fmt.Errorf("juicebox: resolve hash secret: %w", err)
	}
	if generated {
		logger.Warn("juicebox: no hash_secret configured, generated and persisted one under the data directory", logger.Path(path))
	}
	return secret, nil
}

// New wires every subsystem from cfg. It does not load persisted state or
// start the GC loop; call Start for that.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	secret, err := resolveHashSecret(cfg)
	if err != nil {
		return nil, err
	}
	fp, err := fingerprint.New(secret)
	if err != nil {
		return nil, fmt.Errorf("juicebox: %w", err)
	}

	store, err := newKVStore(cfg.KV)
	if err != nil {
		return nil, fmt.Errorf("juicebox: %w", err)
	}

	blobs, err := newBlobStore(cfg.BlobStore)
	if err != nil {
		return nil, fmt.Errorf("juicebox: %w", err)
	}

	cat := catalog.New()
	sem := admission.NewSemaphore(cfg.Limits.UploadConcurrency)
	bans := banindex.New()

	chunks := chunkupload.New(cat, store, blobs, sem)
	acct := quota.New(quota.Config{
		MaxActiveFilesPerIP: cfg.Limits.MaxActiveFilesPerIP,
		MaxFileBytes:        int64(cfg.Limits.MaxFileBytes),
		MaxStorageQuota:     int64(cfg.Limits.MaxStorageQuota),
		QuotaBlockThreshold: int64(cfg.Limits.QuotaBlockThreshold),
	}, catalogView{cat: cat}, chunks)
	chunks.SetAccountant(acct)

	gcLoop := gc.New(gc.Config{
		Interval:    cfg.GC.Interval,
		StaleWindow: cfg.GC.StaleWindow,
	}, cat, store, blobs, chunks)

	single := singleupload.New(singleupload.Config{
		MaxFileBytes: int64(cfg.Limits.MaxFileBytes),
	}, cat, store, blobs, acct, sem, gcLoop)

	s := &Service{
		cfg:           cfg,
		fp:            fp,
		store:         store,
		blobs:         blobs,
		catalog:       cat,
		quota:         acct,
		bans:          bans,
		sem:           sem,
		chunks:        chunks,
		single:        single,
		gcLoop:        gcLoop,
		reports:       reportlog.New(store),
		admins:        adminsession.New(store),
		cachePurger:   noopCachePurger{},
		abuseNotifier: noopAbuseNotifier{},
		proxyPolicy:   directRemoteAddrPolicy{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func newKVStore(cfg config.KVConfig) (kv.Store, error) {
	switch cfg.Backend {
	case "badger":
		return badgerstore.New(badgerstore.Config{Dir: cfg.Badger.Dir})
	case "fs", "":
		return fsstore.New(fsstore.Config{BasePath: cfg.FS.BasePath})
	default:
		return nil, fmt.Errorf("unknown kv backend %q", cfg.Backend)
	}
}

func newBlobStore(cfg config.BlobStoreConfig) (blobstore.Backend, error) {
	switch cfg.Backend {
	case "s3":
		return s3.New(context.Background(), s3.Config{
			Bucket:   cfg.S3.Bucket,
			Prefix:   cfg.S3.Prefix,
			Region:   cfg.S3.Region,
			ChunkDir: cfg.S3.ChunkDir,
		})
	case "fs", "":
		return localfs.New(localfs.Config{
			UploadDir: cfg.FS.UploadDir,
			ChunkDir:  cfg.FS.ChunkDir,
		})
	default:
		return nil, fmt.Errorf("unknown blobstore backend %q", cfg.Backend)
	}
}

// Start loads every component's persisted state and launches the
// background GC loop. It must be called at most once.
func (s *Service) Start(ctx context.Context) error {
	var startErr error
	s.startOnce.Do(func() {
		if err := banindex.LoadFromStore(ctx, s.store, s.bans); err != nil {
			startErr = fmt.Errorf("juicebox: load bans: %w", err)
			return
		}
		if err := s.chunks.LoadFromStore(ctx); err != nil {
			startErr = fmt.Errorf("juicebox: load chunk sessions: %w", err)
			return
		}
		if err := s.reports.LoadFromStore(ctx); err != nil {
			startErr = fmt.Errorf("juicebox: load reports: %w", err)
			return
		}
		if err := s.admins.LoadFromStore(ctx); err != nil {
			startErr = fmt.Errorf("juicebox: load admin sessions: %w", err)
			return
		}

		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		go s.gcLoop.Run(runCtx)

		logger.Info("juicebox: service started",
			logger.KVBackend(s.cfg.KV.Backend),
			logger.BlobStoreBackend(s.cfg.BlobStore.Backend),
			logger.GCInterval(s.cfg.GC.Interval))
	})
	return startErr
}

// Close stops the background GC loop and closes the durable store.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return s.store.Close()
}

// ResolveOwnerHash fingerprints the given textual client address. Choosing
// that address under the TrustedProxyPolicy is left to the caller (see
// ProxyPolicy).
func (s *Service) ResolveOwnerHash(addr string) (string, error) {
	_, hash, ok := s.fp.FingerprintIP(addr)
	if !ok {
		return "", errs.New("invalid_ip", "address could not be fingerprinted")
	}
	return hash, nil
}

// ProxyPolicy exposes the configured TrustedProxyPolicy so pkg/httpapi can
// resolve the address to fingerprint without reaching into Service
// internals.
func (s *Service) ProxyPolicy() TrustedProxyPolicy { return s.proxyPolicy }

// IsBanned reports whether addr matches any exact or network ban.
func (s *Service) IsBanned(addr string) bool {
	banned := s.bans.IsBanned(s.fp, addr)
	s.metrics.RecordBanCheck(banned)
	return banned
}

// Upload runs the single-shot multipart pipeline.
func (s *Service) Upload(ctx context.Context, ownerHash string, parts []singleupload.FilePart, ttlCode string) (singleupload.Result, error) {
	result, err := s.single.Upload(ctx, ownerHash, parts, ttlCode)
	if err != nil {
		s.metrics.RecordUpload("single", outcomeFor(err), 0)
		return result, err
	}
	var total int64
	for _, name := range result.Files {
		if meta, ok := s.catalog.Get(name); ok {
			total += meta.Size
		}
	}
	s.metrics.RecordUpload("single", "ok", total)
	return result, nil
}

// InitChunk begins a resumable upload session.
func (s *Service) InitChunk(ctx context.Context, ownerHash, filename string, size int64, ttlCode string, chunkSize int64, declaredHash string) (chunkupload.InitResult, error) {
	res, err := s.chunks.Init(ctx, ownerHash, filename, size, ttlCode, chunkSize, declaredHash)
	if err == nil {
		s.metrics.SetChunkSessionsActive(len(s.chunks.Iter()))
	}
	return res, err
}

// PutChunk writes one chunk of an in-flight session.
func (s *Service) PutChunk(ctx context.Context, ownerHash, sessionID string, index int, r io.Reader) error {
	return s.chunks.PutChunk(ctx, ownerHash, sessionID, index, r)
}

// CompleteChunk finalizes assembly of a fully-received session.
func (s *Service) CompleteChunk(ctx context.Context, ownerHash, sessionID, declaredHash string) (chunkupload.CompleteResult, error) {
	res, err := s.chunks.Complete(ctx, ownerHash, sessionID, declaredHash)
	s.metrics.SetChunkSessionsActive(len(s.chunks.Iter()))
	if err != nil {
		s.metrics.RecordUpload("chunked", outcomeFor(err), 0)
		return res, err
	}
	var total int64
	for _, name := range res.Files {
		if meta, ok := s.catalog.Get(name); ok {
			total += meta.Size
		}
	}
	s.metrics.RecordUpload("chunked", "ok", total)
	return res, nil
}

// CancelChunk aborts an in-flight session.
func (s *Service) CancelChunk(ctx context.Context, ownerHash, sessionID string) error {
	err := s.chunks.Cancel(ctx, ownerHash, sessionID)
	s.metrics.SetChunkSessionsActive(len(s.chunks.Iter()))
	return err
}

// StatusChunk reports the progress of an in-flight session.
func (s *Service) StatusChunk(ctx context.Context, ownerHash, sessionID string) (chunkupload.StatusResult, error) {
	return s.chunks.Status(ctx, ownerHash, sessionID)
}

// Fetch opens a blob by storage name for reading, together with its
// metadata. The caller is responsible for closing the returned reader.
func (s *Service) Fetch(ctx context.Context, name string) (io.ReadCloser, catalog.FileMeta, error) {
	meta, ok := s.catalog.Get(name)
	if !ok {
		return nil, catalog.FileMeta{}, errs.New("not_found", "file not found")
	}
	if meta.Expires <= time.Now().Unix() {
		return nil, catalog.FileMeta{}, errs.New("not_found", "file not found")
	}
	r, err := s.blobs.OpenBlob(ctx, name)
	if err != nil {
		return nil, catalog.FileMeta{}, errs.Wrap("not_found", "file not found", err)
	}
	return r, meta, nil
}

// DeleteFile removes a blob owned by ownerHash. It notifies the configured
// CachePurger after a successful delete; a purge failure is logged only.
func (s *Service) DeleteFile(ctx context.Context, name, ownerHash string) error {
	meta, ok := s.catalog.Get(name)
	if !ok {
		return errs.New("not_found", "file not found")
	}
	if meta.OwnerHash != ownerHash {
		return errs.New("not_found", "file not found")
	}
	s.catalog.Remove(name)
	if err := s.blobs.DeleteBlob(ctx, name); err != nil {
		logger.Warn("juicebox: failed to delete blob", logger.StorageName(name), logger.Err(err))
	}
	if err := s.store.DeleteField(ctx, kv.NamespaceOwners, name); err != nil {
		logger.Warn("juicebox: failed to clear owner field", logger.StorageName(name), logger.Err(err))
	}
	go func(ctx context.Context) {
		if err := s.cachePurger.Purge(ctx, name); err != nil {
			logger.Warn("juicebox: cache purge failed", logger.StorageName(name), logger.Err(err))
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// ListResult is the GET /list response shape (spec §6).
type ListResult struct {
	Files     []string
	Metas     map[string]catalog.FileMeta
	Reconcile reconcile.Report
}

// List returns ownerHash's live files, reconciling the in-memory catalog
// against the durable store first.
func (s *Service) List(ctx context.Context, ownerHash string) (ListResult, error) {
	s.gcLoop.SweepExpired(ctx)

	report, err := reconcile.Reconcile(ctx, s.catalog, s.store, ownerHash)
	if err != nil {
		return ListResult{}, errs.Wrap("fs_error", "failed to reconcile catalog", err)
	}

	now := time.Now().Unix()
	var files []string
	metas := make(map[string]catalog.FileMeta)
	for _, e := range s.catalog.Iter() {
		if e.Meta.OwnerHash == ownerHash && e.Meta.Expires > now {
			files = append(files, e.Name)
			metas[e.Name] = e.Meta
		}
	}
	return ListResult{Files: files, Metas: metas, Reconcile: report}, nil
}

// RunGC triggers one synchronous pass of the three §4.I sweeps, for
// operators driving garbage collection from the CLI rather than waiting on
// the background loop.
func (s *Service) RunGC(ctx context.Context) gc.Stats {
	stats := s.gcLoop.Sweep(ctx)
	s.metrics.RecordGCRun(stats.OrphanFiles, stats.ExpiredFiles)
	return stats
}

// CheckHash reports whether hash is already present in the catalog.
func (s *Service) CheckHash(hash string) bool {
	_, _, ok := s.catalog.FindByHash(hash)
	return ok
}

// Report records an abuse report against file, resolving short storage-name
// prefixes, and notifies the configured AbuseNotifier.
func (s *Service) Report(ctx context.Context, file, reason, details, reporterHash string) reportlog.Record {
	rec := s.reports.Submit(ctx, s.catalog, file, reason, details, reporterHash, time.Now().Unix())
	go func(ctx context.Context) {
		if err := s.abuseNotifier.NotifyReport(ctx, rec); err != nil {
			logger.Warn("juicebox: abuse notification failed", logger.ReportFile(rec.File), logger.Err(err))
		}
	}(context.WithoutCancel(ctx))
	return rec
}

// AdminVerifyKey checks submitted against the configured admin key.
func (s *Service) AdminVerifyKey(submitted string) bool {
	return adminsession.VerifyKey(submitted, s.cfg.Admin.Key)
}

// AdminCreateSession mints and persists a new admin session token.
func (s *Service) AdminCreateSession(ctx context.Context) (string, error) {
	token, err := adminsession.NewToken()
	if err != nil {
		return "", errs.Wrap("fs_error", "failed to generate admin token", err)
	}
	s.admins.Create(ctx, token, time.Now().Unix())
	return token, nil
}

// AdminIsAdmin reports whether token is a currently valid admin session.
func (s *Service) AdminIsAdmin(token string) bool {
	return s.admins.IsAdmin(token, time.Now().Unix())
}

// AdminRevoke invalidates an admin session token.
func (s *Service) AdminRevoke(ctx context.Context, token string) {
	s.admins.Revoke(ctx, token)
}

// AdminFileEntry is one row of the admin file listing.
type AdminFileEntry struct {
	Name string
	Meta catalog.FileMeta
}

// AdminListFiles returns every catalog entry regardless of owner, sorted
// by name for stable pagination, restricted to the requested page.
func (s *Service) AdminListFiles(offset, limit int) ([]AdminFileEntry, int) {
	entries := s.catalog.Iter()
	out := make([]AdminFileEntry, len(entries))
	for i, e := range entries {
		out[i] = AdminFileEntry{Name: e.Name, Meta: e.Meta}
	}
	sortAdminFiles(out)
	total := len(out)
	if offset >= total {
		return nil, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return out[offset:end], total
}

func sortAdminFiles(entries []AdminFileEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].Name < entries[j-1].Name; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// AdminDeleteFile force-deletes name regardless of owner.
func (s *Service) AdminDeleteFile(ctx context.Context, name string) error {
	_, ok := s.catalog.Get(name)
	if !ok {
		return errs.New("not_found", "file not found")
	}
	s.catalog.Remove(name)
	if err := s.blobs.DeleteBlob(ctx, name); err != nil {
		logger.Warn("juicebox: admin delete failed to remove blob", logger.StorageName(name), logger.Err(err))
	}
	if err := s.store.DeleteField(ctx, kv.NamespaceOwners, name); err != nil {
		logger.Warn("juicebox: admin delete failed to clear owner field", logger.StorageName(name), logger.Err(err))
	}
	go func(ctx context.Context) {
		if err := s.cachePurger.Purge(ctx, name); err != nil {
			logger.Warn("juicebox: cache purge failed", logger.StorageName(name), logger.Err(err))
		}
	}(context.WithoutCancel(ctx))
	return nil
}

// AdminListBans returns every current ban.
func (s *Service) AdminListBans() []banindex.Ban {
	return s.bans.List()
}

// AdminAddBan admits input (address, CIDR, or raw hash) as a ban subject,
// attaches label/reason, and persists it.
func (s *Service) AdminAddBan(ctx context.Context, input, label, reason string) (banindex.Ban, error) {
	subject, err := banindex.AdmitSubject(s.fp, input)
	if err != nil {
		return banindex.Ban{}, errs.Wrap("invalid", err.Error(), err)
	}
	subject.Label = label
	subject.Reason = reason
	subject.Created = time.Now().Unix()
	banindex.Persist(ctx, s.store, s.bans, subject)
	return subject, nil
}

// AdminRemoveBan removes a ban by hash.
func (s *Service) AdminRemoveBan(ctx context.Context, hash string) {
	banindex.Unpersist(ctx, s.store, s.bans, hash)
}

// DebugStats is the /debug/stats admin-only response shape.
type DebugStats struct {
	CatalogEntries      int
	ActiveSessions      int
	GlobalReserved      int64
	GlobalReservedHuman string
	BansExact           int
	BansNetwork         int
}

// DebugStats reports a read-only snapshot of service-wide state.
func (s *Service) DebugStats() DebugStats {
	now := time.Now().Unix()
	bans := s.bans.List()
	var exact, network int
	for _, b := range bans {
		if b.Kind == banindex.KindNetwork {
			network++
		} else {
			exact++
		}
	}
	reserved := s.quota.GlobalReservedStorage(now)
	return DebugStats{
		CatalogEntries:      s.catalog.Len(),
		ActiveSessions:      len(s.chunks.Iter()),
		GlobalReserved:      reserved,
		GlobalReservedHuman: bytesize.ByteSize(reserved).String(),
		BansExact:           exact,
		BansNetwork:         network,
	}
}

// outcomeFor labels a failed upload attempt for metrics. DuplicateError
// from both upload pipelines promotes Code() from its embedded *errs.Error,
// so a plain interface assertion reaches it without errors.As boilerplate.
func outcomeFor(err error) string {
	if coder, ok := err.(interface{ Code() string }); ok && coder.Code() == "duplicate" {
		return "duplicate"
	}
	return "error"
}
