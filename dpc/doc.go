// Package dpc implements the distributed pixel cache: a TCP server that
// holds pixel caches for other processes, and a client that plugs into
// cache.Manager as its last-resort Remote backing.
//
// # Protocol
//
// On connect the server sends an 8-byte nonce. The client answers with
// SessionKey(secret, nonce), a keyed BLAKE2b digest truncated to 64 bits;
// a wrong key closes the connection. Every request then carries the
// session key:
//
//	'o' key columns rows channels                 open the cache
//	'r' key x y width height length               read pixels
//	'w' key x y width height length payload       write pixels
//	'd' key                                       destroy the cache
//
// Fields are little-endian; samples travel as little-endian uint16. Every
// reply starts with a status byte (1 ok, 0 failure); a successful read is
// followed by length payload bytes.
//
// # Server
//
// Each connection owns at most one cache allocated from the server's own
// cache.Manager, so the server's resource ceilings apply. Concurrent
// connections are bounded by the accountant's worker slots.
//
//	srv := dpc.NewServer(cache.NewManager(acct), secret)
//	go srv.ListenAndServe(":6668")
//	defer srv.Shutdown(ctx)
//
// # Client
//
//	client := dpc.NewClient(dpc.ParseHosts("10.0.0.1,10.0.0.2:7000"), secret)
//	mgr := cache.NewManager(acct, cache.WithRemote(client))
package dpc
