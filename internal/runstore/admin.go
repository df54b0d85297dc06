package runstore

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/zeus2/zeus2be/internal/httputil"
)

const defaultRecent = 50

// AttachAdminRoutes mounts the ledger under /debug/: recent runs as JSON
// and a read-only SQL console.
func (s *Store) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+s.path, s.db, &tailsql.DBOptions{
		Label: "Run ledger",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("runs", "Recent acquisitions (JSON, ?n=count)", func(w http.ResponseWriter, r *http.Request) {
		n := defaultRecent
		if v := r.URL.Query().Get("n"); v != "" {
			var err error
			if n, err = strconv.Atoi(v); err != nil || n <= 0 {
				httputil.BadRequest(w, "n must be a positive integer")
				return
			}
		}
		runs, err := s.Recent(r.Context(), n)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		if runs == nil {
			runs = []Run{}
		}
		httputil.WriteJSONOK(w, runs)
	})
	return nil
}
