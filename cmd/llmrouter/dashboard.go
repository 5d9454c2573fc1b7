package main

import (
	"net/http"

	"github.com/quaylabs/llmrouter/web"
)

var dashboardAssets = web.Assets

// dashboardHandler serves the public, read-only operator dashboard at GET
// /dashboard. It calls the admin JSON endpoints client-side, sending the
// bearer token the browser has stored in localStorage under "adminToken",
// so this route itself stays unauthenticated. Mutations (e.g. config rollback) go through the
// authenticated /admin API from the browser, never from this handler.
func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFileFS(w, r, dashboardAssets, "dashboard.html")
}
