// Package storage implements the calendar store and the execution audit
// log over three backends:
//   - "sqlite": a local SQLite file (modernc driver, sqlx queries)
//   - "postgres": a PostgreSQL database through gorm
//   - "memory": process-local maps, for simulation runs and tests
package storage
