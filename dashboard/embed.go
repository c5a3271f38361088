// Package dashboard embeds the single-page station dashboard.
//
// The page subscribes to /api/sse and redraws a station card for every
// source-update event. The server replaces the {{.Title}} placeholder with
// the configured title before serving it.
package dashboard

import "embed"

// Assets holds assets/index.html.
//
//go:embed assets/*
var Assets embed.FS
