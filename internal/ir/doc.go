// Package ir provides the canonical data model shared by every roomline package.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps the data model the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Timestamps are origin-server milliseconds (Timestamp), never time.Time
//   - Arrival order is a logical seq assigned by the timeline, never wall-clock
//   - ItemContent is a closed sum type; consumers switch over it exhaustively
//   - All JSON tags use snake_case, except protocol fields that keep their wire names
package ir
