// Package stores persists run history to SQLite so past runs can be
// inspected after the process exits.
package stores
