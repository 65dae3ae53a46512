// Package store is the on-device record store.
//
// Every mutation of an AnimalRecord is committed in a single SQLite
// transaction together with its image blob (if any) and the change-log
// entry the sync engine will later push. A crash at any point leaves either
// the whole mutation or none of it on disk.
//
// Write transactions run one at a time under a store-wide lock. SQLite
// admits a single writer anyway, and the change-log sequence is global.
// Readers take no locks: WAL mode gives them a consistent snapshot while a
// writer proceeds.
//
// Usage
//
//	db, _ := client.OpenDatabase(ctx, path)
//	s, _ := store.Open(ctx, db, store.Config{QuotaLimitBytes: 50 << 20}, logger)
//	h, _ := s.Put(ctx, content, jpeg)
//	rec, _ := s.Get(ctx, h.ID)
//	for rec, err := range s.List(ctx, models.Filter{}, models.Page{Limit: 20}) { ... }
package store
