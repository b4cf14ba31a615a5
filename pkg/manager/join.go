package manager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// joinRequest is the body a new replica POSTs to a leader's join endpoint.
type joinRequest struct {
	NodeID   string `json:"node_id"`
	BindAddr string `json:"bind_addr"`
	Token    string `json:"token"`
}

// requestJoin asks the manager at leaderAddr to add this node as a Raft
// voter. The join endpoint itself is served by ServeJoin, which cmd/drmsd
// mounts at /internal/join on its admin HTTP listener (--metrics-addr).
func requestJoin(leaderAddr, nodeID, bindAddr, token string) error {
	body, err := json.Marshal(joinRequest{NodeID: nodeID, BindAddr: bindAddr, Token: token})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/internal/join", leaderAddr), "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to contact leader: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("leader rejected join: %s", errBody.Error)
		}
		return fmt.Errorf("leader rejected join: status %d", resp.StatusCode)
	}
	return nil
}

// ServeJoin handles an incoming join request on the leader: it validates
// the token and adds the requesting node as a Raft voter.
func (m *Manager) ServeJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"malformed join request"}`, http.StatusBadRequest)
		return
	}

	if _, err := m.ValidateToken(req.Token); err != nil {
		writeJoinError(w, http.StatusForbidden, err)
		return
	}
	if err := m.AddVoter(req.NodeID, req.BindAddr); err != nil {
		writeJoinError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeJoinError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
