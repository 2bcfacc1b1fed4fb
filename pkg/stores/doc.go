// Package stores persists workflow executions, node transitions and chat
// history. SQLiteStore is the durable store, migrated with embedded SQL
// files; RedisChatMemory keeps a short recent window per app in front of it.
package stores
