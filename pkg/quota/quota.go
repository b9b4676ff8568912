// Package quota computes reserved storage and active-file counts per
// fingerprint and globally, including in-flight chunk sessions. It depends
// on narrow read-only views of the catalog and the chunk session manager
// rather than importing either package directly, so pkg/chunkupload (which
// depends on pkg/quota for admission checks) never creates an import cycle.
package quota

// CatalogEntry is the slice of catalog.FileMeta the accountant needs.
type CatalogEntry struct {
	OwnerHash string
	Expires   int64
	Size      int64
}

// CatalogView exposes a point-in-time snapshot of catalog entries.
type CatalogView interface {
	Iter() []CatalogEntry
}

// SessionEntry is the slice of chunk session state the accountant needs.
type SessionEntry struct {
	OwnerHash  string
	Expires    int64
	TotalBytes int64
	Completed  bool
}

// SessionView exposes a point-in-time snapshot of chunk sessions.
type SessionView interface {
	Iter() []SessionEntry
}

// Config carries the enumerated quota knobs (spec §4.E).
type Config struct {
	// MaxActiveFilesPerIP is the hard cap of simultaneously active blobs
	// per fingerprint. Default 5.
	MaxActiveFilesPerIP int
	// MaxFileBytes is the per-blob ceiling. Default 500 MiB.
	MaxFileBytes int64
	// MaxStorageQuota is an optional global byte ceiling; zero means
	// unlimited.
	MaxStorageQuota int64
	// QuotaBlockThreshold is the soft threshold at which uploads are
	// refused; defaults to MaxStorageQuota when zero.
	QuotaBlockThreshold int64
}

// threshold returns the effective soft quota threshold.
func (c Config) threshold() int64 {
	if c.QuotaBlockThreshold > 0 {
		return c.QuotaBlockThreshold
	}
	return c.MaxStorageQuota
}

// Accountant computes reserved-storage and active-file accounting against a
// catalog and a chunk session manager.
type Accountant struct {
	cfg      Config
	catalog  CatalogView
	sessions SessionView
}

// New returns an Accountant reading from catalog and sessions.
func New(cfg Config, catalog CatalogView, sessions SessionView) *Accountant {
	return &Accountant{cfg: cfg, catalog: catalog, sessions: sessions}
}

// ReservedStorage sums Size over live catalog entries owned by ownerHash
// plus TotalBytes over its non-completed chunk sessions, both filtered by
// expires > now.
func (a *Accountant) ReservedStorage(ownerHash string, now int64) int64 {
	var total int64
	for _, e := range a.catalog.Iter() {
		if e.OwnerHash == ownerHash && e.Expires > now {
			total += e.Size
		}
	}
	for _, s := range a.sessions.Iter() {
		if !s.Completed && s.OwnerHash == ownerHash && s.Expires > now {
			total += s.TotalBytes
		}
	}
	return total
}

// GlobalReservedStorage is ReservedStorage summed across all owners.
func (a *Accountant) GlobalReservedStorage(now int64) int64 {
	var total int64
	for _, e := range a.catalog.Iter() {
		if e.Expires > now {
			total += e.Size
		}
	}
	for _, s := range a.sessions.Iter() {
		if !s.Completed && s.Expires > now {
			total += s.TotalBytes
		}
	}
	return total
}

// ActiveFiles counts live catalog entries plus non-completed sessions
// belonging to ownerHash.
func (a *Accountant) ActiveFiles(ownerHash string, now int64) int {
	n := 0
	for _, e := range a.catalog.Iter() {
		if e.OwnerHash == ownerHash && e.Expires > now {
			n++
		}
	}
	for _, s := range a.sessions.Iter() {
		if !s.Completed && s.OwnerHash == ownerHash && s.Expires > now {
			n++
		}
	}
	return n
}

// RemainingFileSlots is MaxActiveFilesPerIP - ActiveFiles, saturating at
// zero.
func (a *Accountant) RemainingFileSlots(ownerHash string, now int64) int {
	remaining := a.cfg.MaxActiveFilesPerIP - a.ActiveFiles(ownerHash, now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasFileSlot reports whether ownerHash may start one more active file.
func (a *Accountant) HasFileSlot(ownerHash string, now int64) bool {
	return a.RemainingFileSlots(ownerHash, now) > 0
}

// FitsFileSize reports whether size is within the per-blob ceiling.
func (a *Accountant) FitsFileSize(size int64) bool {
	return size > 0 && size <= a.cfg.MaxFileBytes
}

// OverFileCap reports whether ownerHash currently holds more active files
// than MaxActiveFilesPerIP allows. It exists for the post-insert re-check
// spec §5 requires at chunk completion, where the pre-insert HasFileSlot
// check may have raced against a concurrent commit.
func (a *Accountant) OverFileCap(ownerHash string, now int64) bool {
	return a.ActiveFiles(ownerHash, now) > a.cfg.MaxActiveFilesPerIP
}

// FitsGlobalQuota reports whether adding addBytes would keep the global
// reserved storage at or below the soft threshold. A zero threshold means
// unlimited.
func (a *Accountant) FitsGlobalQuota(now int64, addBytes int64) bool {
	threshold := a.cfg.threshold()
	if threshold <= 0 {
		return true
	}
	return a.GlobalReservedStorage(now)+addBytes <= threshold
}
