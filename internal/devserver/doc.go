// Package devserver is a reference implementation of the admin backend the
// sync engine talks to.
//
// It serves the collection, bulk, stats and health endpoints over a
// store.Store and pushes USER_UPDATE / STATS_UPDATE frames to websocket
// subscribers after every mutation. It exists for local development and
// end-to-end tests; it is not a production server.
package devserver
