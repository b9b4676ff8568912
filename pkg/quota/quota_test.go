package quota

import "testing"

type fakeCatalog struct {
	entries []CatalogEntry
}

func (f fakeCatalog) Iter() []CatalogEntry { return f.entries }

type fakeSessions struct {
	entries []SessionEntry
}

func (f fakeSessions) Iter() []SessionEntry { return f.entries }

func TestReservedStorageCountsLiveEntriesAndOpenSessions(t *testing.T) {
	cat := fakeCatalog{entries: []CatalogEntry{
		{OwnerHash: "a", Size: 100, Expires: 200},
		{OwnerHash: "a", Size: 50, Expires: 10}, // expired, excluded
		{OwnerHash: "b", Size: 999, Expires: 200},
	}}
	sess := fakeSessions{entries: []SessionEntry{
		{OwnerHash: "a", TotalBytes: 30, Expires: 200, Completed: false},
		{OwnerHash: "a", TotalBytes: 40, Expires: 200, Completed: true}, // completed, excluded
		{OwnerHash: "a", TotalBytes: 10, Expires: 5, Completed: false},  // expired, excluded
	}}
	acc := New(Config{MaxActiveFilesPerIP: 5}, cat, sess)

	got := acc.ReservedStorage("a", 100)
	want := int64(130)
	if got != want {
		t.Fatalf("ReservedStorage = %d, want %d", got, want)
	}
}

func TestGlobalReservedStorageSumsAllOwners(t *testing.T) {
	cat := fakeCatalog{entries: []CatalogEntry{
		{OwnerHash: "a", Size: 100, Expires: 200},
		{OwnerHash: "b", Size: 200, Expires: 200},
	}}
	acc := New(Config{}, cat, fakeSessions{})
	if got := acc.GlobalReservedStorage(100); got != 300 {
		t.Fatalf("GlobalReservedStorage = %d, want 300", got)
	}
}

func TestActiveFilesAndRemainingSlots(t *testing.T) {
	cat := fakeCatalog{entries: []CatalogEntry{
		{OwnerHash: "a", Size: 1, Expires: 200},
		{OwnerHash: "a", Size: 1, Expires: 200},
	}}
	sess := fakeSessions{entries: []SessionEntry{
		{OwnerHash: "a", TotalBytes: 1, Expires: 200, Completed: false},
	}}
	acc := New(Config{MaxActiveFilesPerIP: 3}, cat, sess)

	if got := acc.ActiveFiles("a", 100); got != 3 {
		t.Fatalf("ActiveFiles = %d, want 3", got)
	}
	if got := acc.RemainingFileSlots("a", 100); got != 0 {
		t.Fatalf("RemainingFileSlots = %d, want 0", got)
	}
	if acc.HasFileSlot("a", 100) {
		t.Fatal("expected no remaining slot")
	}
}

func TestRemainingFileSlotsSaturatesAtZero(t *testing.T) {
	cat := fakeCatalog{entries: []CatalogEntry{
		{OwnerHash: "a", Size: 1, Expires: 200},
		{OwnerHash: "a", Size: 1, Expires: 200},
		{OwnerHash: "a", Size: 1, Expires: 200},
	}}
	acc := New(Config{MaxActiveFilesPerIP: 1}, cat, fakeSessions{})
	if got := acc.RemainingFileSlots("a", 100); got != 0 {
		t.Fatalf("expected saturation at 0, got %d", got)
	}
}

func TestFitsFileSize(t *testing.T) {
	acc := New(Config{MaxFileBytes: 100}, fakeCatalog{}, fakeSessions{})
	if !acc.FitsFileSize(100) {
		t.Fatal("expected exactly MaxFileBytes to fit")
	}
	if acc.FitsFileSize(101) {
		t.Fatal("expected MaxFileBytes+1 to not fit")
	}
	if acc.FitsFileSize(0) {
		t.Fatal("expected zero size to not fit")
	}
}

func TestFitsGlobalQuotaUnlimitedWhenZero(t *testing.T) {
	acc := New(Config{}, fakeCatalog{}, fakeSessions{})
	if !acc.FitsGlobalQuota(100, 1<<40) {
		t.Fatal("expected unlimited quota to always fit")
	}
}

func TestFitsGlobalQuotaUsesBlockThresholdOverride(t *testing.T) {
	cat := fakeCatalog{entries: []CatalogEntry{{OwnerHash: "a", Size: 90, Expires: 200}}}
	acc := New(Config{MaxStorageQuota: 1000, QuotaBlockThreshold: 100}, cat, fakeSessions{})
	if !acc.FitsGlobalQuota(100, 10) {
		t.Fatal("expected 90+10 == 100 to fit the threshold exactly")
	}
	if acc.FitsGlobalQuota(100, 11) {
		t.Fatal("expected 90+11 > 100 to exceed the threshold")
	}
}
