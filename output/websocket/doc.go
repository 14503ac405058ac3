// Package websocket serves a live feed of published beam windows over websockets.
//
// Output implements beam.Publisher, so the daemon adds it next to the NATS publisher with
// beam.FanOut. Every window becomes one JSON text message:
//
//	{"type":"window","seq":17,"timestamp":1767268800000,"tx":"6f1c...","beam":0,
//	 "subband":12,"begin":4096,"count":256,"offset":0,"shift":0,
//	 "gaps":[{"offset":32,"length":16}],"truncated":false}
//
// The raw samples are added as base64 "data" only when IncludeData is set.
//
// Clients can narrow the feed with repeated query parameters:
//
//	ws://host:8081/ws?beam=0&subband=12&subband=13
//
// Each client has its own queue of ClientQueue messages. When it is full the client misses
// windows instead of slowing the streamer down; drops are counted in
// beamlet_websocket_messages_dropped_total. The server pings every PingInterval and drops
// clients that stop answering.
//
// With TLS enabled the same endpoint is served as wss://, optionally requiring client
// certificates.
package websocket
