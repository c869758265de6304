package httpd

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// nodeView and serverView are the JSON shapes served by cluster_updates
// and cluster_status, matching the field names httpd.py's cluster.html
// JS expects (name/host/status/servers/coros).
type nodeView struct {
	Host       string        `json:"host"`
	Status     string        `json:"status"`
	UpdateTime int64         `json:"update_time"`
	Servers    []*serverView `json:"servers"`
}

type serverView struct {
	Location       string   `json:"location"`
	Status         string   `json:"status"`
	CorosSubmitted int      `json:"coros_submitted"`
	CorosDone      int      `json:"coros_done"`
	Coros          []string `json:"coros"`
}

func viewOf(n *nodeMirror, limit int) *nodeView {
	v := &nodeView{Host: n.Addr, Status: n.Status.String(), UpdateTime: n.UpdateTime.UnixNano()}
	for _, srv := range n.Servers {
		sv := &serverView{
			Location:       srv.Location.String(),
			Status:         srv.Status.String(),
			CorosSubmitted: srv.CorosSubmitted,
			CorosDone:      srv.CorosDone,
		}
		for handle := range srv.Coros {
			if limit > 0 && len(sv.Coros) >= limit {
				break
			}
			sv.Coros = append(sv.Coros, handle)
		}
		v.Servers = append(v.Servers, sv)
	}
	return v
}

// Router builds the gorilla/mux router serving every endpoint spec.md §6
// names for the HTTP dashboard, falling back to static file serving from
// Options.DocumentRoot for anything else.
func (d *Dashboard) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/cluster_updates", d.handleClusterUpdates).Methods(http.MethodGet)
	r.HandleFunc("/cluster_status", d.handleClusterStatus).Methods(http.MethodGet)
	r.HandleFunc("/server_info", d.handleServerInfo).Methods(http.MethodPost)
	r.HandleFunc("/node_info", d.handleNodeInfo).Methods(http.MethodPost)
	r.HandleFunc("/terminate_coros", d.handleTerminateCoros).Methods(http.MethodPost)
	r.HandleFunc("/set_poll_sec", d.handleSetPollSec).Methods(http.MethodPost)
	if d.documentRoot != "" {
		r.PathPrefix("/").HandlerFunc(d.handleStatic).Methods(http.MethodGet)
	}
	return r
}

// handleClusterUpdates answers with only the nodes touched since the
// last read, clearing the dirty set under lock, matching httpd.py's
// cluster_updates/sched_updates pair.
func (d *Dashboard) handleClusterUpdates(w http.ResponseWriter, r *http.Request) {
	d.m.mu.Lock()
	views := make([]*nodeView, 0, len(d.m.dirty))
	for addr := range d.m.dirty {
		if n, ok := d.m.nodes[addr]; ok {
			views = append(views, viewOf(n, 0))
		}
	}
	d.m.dirty = make(map[string]struct{})
	d.m.mu.Unlock()

	writeJSON(w, views)
}

// handleClusterStatus answers with the full node list, never clearing
// anything.
func (d *Dashboard) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	d.m.mu.Lock()
	views := make([]*nodeView, 0, len(d.m.nodes))
	for _, n := range d.m.nodes {
		views = append(views, viewOf(n, 0))
	}
	d.m.mu.Unlock()

	writeJSON(w, views)
}

// handleServerInfo answers detail for one server, capping its coros
// list at the caller-supplied limit (0 means unlimited).
func (d *Dashboard) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loc := r.FormValue("location")
	limit, _ := strconv.Atoi(r.FormValue("limit"))

	d.m.mu.Lock()
	defer d.m.mu.Unlock()
	for _, n := range d.m.nodes {
		if srv, ok := n.Servers[loc]; ok {
			sv := &serverView{
				Location:       srv.Location.String(),
				Status:         srv.Status.String(),
				CorosSubmitted: srv.CorosSubmitted,
				CorosDone:      srv.CorosDone,
			}
			for handle := range srv.Coros {
				if limit > 0 && len(sv.Coros) >= limit {
					break
				}
				sv.Coros = append(sv.Coros, handle)
			}
			writeJSON(w, sv)
			return
		}
	}
	http.NotFound(w, r)
}

// handleNodeInfo answers detail for one node by host address.
func (d *Dashboard) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	host := r.FormValue("host")

	d.m.mu.Lock()
	n, ok := d.m.nodes[host]
	var v *nodeView
	if ok {
		v = viewOf(n, 0)
	}
	d.m.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, v)
}

// handleTerminateCoros cancels every named coro and answers how many
// terminate calls actually returned success (SPEC_FULL.md §2.4).
func (d *Dashboard) handleTerminateCoros(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	handles := r.Form["coro"]
	ok := 0
	for _, h := range handles {
		if d.terminate(h) {
			ok++
		}
	}
	writeJSON(w, map[string]int{"terminated": ok, "requested": len(handles)})
}

// handleSetPollSec updates the JS poll interval future /<path> template
// renders use; negative or unparseable values clamp to 0, matching
// httpd.py's set_poll_sec.
func (d *Dashboard) handleSetPollSec(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sec, err := strconv.Atoi(r.FormValue("timeout"))
	if err != nil {
		sec = 0
	}
	d.m.setPollSec(sec)
	w.WriteHeader(http.StatusOK)
}

// handleStatic serves DocumentRoot, rendering .html files as templates
// substituting {{.PollSec}}, and mapping "/" to index.html the way
// httpd.py maps "/" to cluster.html.
func (d *Dashboard) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path
	if name == "" || name == "/" {
		name = "/index.html"
	}
	full := filepath.Join(d.documentRoot, filepath.Clean(name))

	if filepath.Ext(full) == ".html" {
		tmpl, err := template.ParseFiles(full)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		d.m.mu.Lock()
		pollSec := d.m.pollSec
		d.m.mu.Unlock()
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("Cache-Control", "no-cache")
		if err := tmpl.Execute(w, struct{ PollSec int }{pollSec}); err != nil {
			d.logger.Warn("httpd: template render failed", zap.String("file", full), zap.Error(err))
		}
		return
	}

	if _, err := os.Stat(full); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, full)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
