package database

// schema.sql is a reference snapshot of the migrated schema for reading and
// for review diffs; the migrations remain the source of truth.
//
// To regenerate:
//   go generate ./internal/database

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
