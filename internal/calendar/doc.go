// Package calendar holds the per-user work calendar model and the store
// boundary the resolver reads through.
//
// All four calendar entities (holidays, schedule periods with their weekly
// day schedules, and day overrides) are owned by a user. The core only
// reads them; writes come from the operator commands and the seed importer.
package calendar
