package api

import (
	"net"
	"net/http"
	"os/exec"
)

// pingRequest asks for a reachability probe from the controller host.
type pingRequest struct {
	IP string `json:"ip"`
}

// pingReport is the synchronous probe result.
type pingReport struct {
	IP        string `json:"ip"`
	Reachable bool   `json:"reachable"`
	Output    string `json:"output,omitempty"`
}

// ping runs a short reachability probe towards the given address.
func (s *Server) ping(w http.ResponseWriter, r *http.Request) {
	var req pingRequest
	if !decode(w, r, "ping", &req) {
		return
	}
	if net.ParseIP(req.IP) == nil {
		writeError(w, http.StatusNotAcceptable, "ping", "invalid ip address")
		return
	}

	cmd := exec.Command("ping", "-c", "3", "-W", "2", req.IP)
	out, err := cmd.CombinedOutput()

	writeJSON(w, http.StatusOK, pingReport{
		IP:        req.IP,
		Reachable: err == nil,
		Output:    string(out),
	})
}
