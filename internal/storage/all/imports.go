// Package all wires every built-in sink backend into the storage factory.
//
// Importing it (usually as a blank import from cmd/) runs each backend's
// init, making these storage kinds available:
//
//   - "postgres"  (listingload/internal/storage/postgres)
//   - "mssql"     (listingload/internal/storage/mssql)
//   - "mysql"     (listingload/internal/storage/mysql)
//   - "sqlite"    (listingload/internal/storage/sqlite)
//   - "snowflake" (listingload/internal/storage/snowflake)
//   - "duckdb"    (listingload/internal/storage/duckdb)
//
// A binary that needs only a subset can import those packages directly.
package all

import (
	_ "listingload/internal/storage/duckdb"
	_ "listingload/internal/storage/mssql"
	_ "listingload/internal/storage/mysql"
	_ "listingload/internal/storage/postgres"
	_ "listingload/internal/storage/snowflake"
	_ "listingload/internal/storage/sqlite"
)
