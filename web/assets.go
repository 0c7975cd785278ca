// Package web embeds the single-page control UI served by WsTransport at
// `/` and `/<asset>`.
package web

import "embed"

//go:embed index.html style.css app.js
var Assets embed.FS
