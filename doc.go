// Package memoryclient provides high-level access to a hosted memory service
// spoken over MCP-style JSON-RPC envelopes.
//
// The package glues typed memory operations onto a resilient transport layer:
// a transport.Manager selects between a streaming WebSocket channel and a
// request/response HTTP channel, falls back when one degrades and recovers
// back to the preferred channel when it heals. An optional local.Manager
// detects, spawns and supervises a locally installed server process.
//
// Example:
//
//	cli, _ := memoryclient.NewClient(ctx, &memoryclient.Options{
//		Transport: memoryclient.TransportOptions{HTTPURL: "https://api.lanonasis.com"},
//		Auth:      &memoryclient.AuthOptions{APIKey: key},
//	})
//	_ = cli.Connect(ctx)
//	memory, _ := memoryclient.CreateMemory(ctx, cli, &memoryclient.CreateMemoryInput{
//		Title: "standup", Content: "...", MemoryType: memoryclient.MemoryTypeContext,
//	})
package memoryclient
