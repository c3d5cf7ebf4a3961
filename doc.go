// Package abtray is the desktop supervisor for AutoBangumi. It serves the
// built web UI and poster images, keeps an icon in the system tray, makes
// sure qBittorrent is running while the UI is up, and on exit optionally asks
// qBittorrent to shut down through its Web API before the process ends.
//
// # Running a server
//
// The web server binds Config.Listen (derived from the HOST and IPV6
// environment variables when empty). Without a dist directory it runs in
// development mode and redirects "/" to "/docs".
//
//	cfg := abtray.Config{
//	    Listen:  "127.0.0.1:7892",
//	    DistDir: "dist",
//	}
//	srv, err := abtray.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Run(); err != nil {
//	        log.Printf("abtray: %v", err)
//	    }
//	}()
//	defer srv.RequestStop()
//
// # Endpoints
//
//	/                      built UI (index.html fallback for client routes)
//	/assets/*, /images/*   static files from dist
//	/posters/*             poster images
//	/metrics               Prometheus metrics
//	/api/v1/abtray/status  supervisor status (JSON)
//
// # Lifecycle
//
// The cmd/abtray binary wires the server into internal/lifecycle, which holds
// the single-instance guard and runs exactly one shutdown sequence no matter
// whether it was triggered by a signal, the tray's quit action or the server
// exiting on its own. The sequence persists the exit preference, stops
// qBittorrent when asked to, notifies the user, stops the server, removes the
// tray and exits. A hard deadline forces exit if any step hangs.
//
// # Configuration
//
// Every Config field has a matching flag and an ABTRAY_ prefixed environment
// variable; `abtray config gen` writes a YAML file with the defaults.
package abtray
