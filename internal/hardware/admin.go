package hardware

import (
	"net/http"
	"strconv"
	"strings"

	"tailscale.com/tsweb"

	"github.com/zeus2/zeus2be/internal/httputil"
)

// AttachAdminRoutes mounts orchestrator debugging endpoints under /debug/.
// These routes are accessible only over localhost or the tailnet.
func (o *Orchestrator) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("status", "Hardware orchestrator status (JSON)", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, o.Snapshot())
	})

	// Manual directives for engineering use outside an observation.
	debug.HandleSilentFunc("directive", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}

		var d Directive
		switch Kind(strings.ToLower(strings.TrimSpace(r.FormValue("kind")))) {
		case KindMoveGrating:
			idx, err := strconv.Atoi(strings.TrimSpace(r.FormValue("index")))
			if err != nil {
				httputil.BadRequest(w, "index must be an integer")
				return
			}
			d = MoveGrating{Index: idx}
		case KindAutoSetup:
			d = AutoSetup{}
		default:
			httputil.BadRequest(w, "kind must be gratinggo or auto_setup")
			return
		}

		if err := o.Submit(d); err != nil {
			httputil.ServiceUnavailable(w, err.Error())
			return
		}
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"queued": string(d.Kind())})
	})
}
