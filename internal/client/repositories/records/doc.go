// Package records persists AnimalRecord rows in the on-device SQLite
// database.
//
// The repository works over dbx.DBTX, so the same code runs against a
// *sql.DB for reads and inside a *sql.Tx for the multi-table writes the
// store performs. Timestamps are stored as Unix nanoseconds in UTC.
//
// Tombstoned rows (deleted=1) are kept until their delete has been
// acknowledged by the system of record; Get returns them with Deleted set
// and the listing queries skip them.
package records
