package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jholhewres/notesbot/pkg/notesbot/bot"
	"github.com/jholhewres/notesbot/pkg/notesbot/channels"
)

// errorResponse is the consistent error format.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, code int) {
	var resp errorResponse
	resp.Error.Message = msg
	resp.Error.Code = code
	g.writeJSON(w, code, resp)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// channelStatus is one entry of GET /api/status.
type channelStatus struct {
	Name       string                `json:"name"`
	Health     channels.HealthStatus `json:"health"`
	Supervisor bot.SupervisorStats   `json:"supervisor"`
}

func (g *Gateway) uptime() string {
	uptime := time.Since(g.startedAt).Round(time.Second).String()
	if uptime == "0s" {
		uptime = "<1s"
	}
	return uptime
}

// handleHealth implements GET /health
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": g.uptime(),
	})
}

// handleStatus implements GET /api/status
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	chans := make([]channelStatus, 0, len(g.deps.Supervisors))
	for _, sup := range g.deps.Supervisors {
		ch := sup.Channel()
		chans = append(chans, channelStatus{
			Name:       ch.Name(),
			Health:     ch.Health(),
			Supervisor: sup.Stats(),
		})
	}
	sessions := 0
	if g.deps.Sessions != nil {
		sessions = g.deps.Sessions.Count()
	}
	g.writeJSON(w, http.StatusOK, map[string]any{
		"name":       g.deps.Name,
		"uptime":     g.uptime(),
		"started_at": g.startedAt,
		"sessions":   sessions,
		"channels":   chans,
	})
}

// handleListSessions implements GET /api/sessions
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list := []bot.SessionMeta{}
	if g.deps.Sessions != nil {
		list = g.deps.Sessions.List()
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"sessions": list})
}

// handleSessionByKey implements DELETE /api/sessions/{channel}/{chat_id}
func (g *Gateway) handleSessionByKey(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	channel, chatID, ok := strings.Cut(path, "/")
	if !ok || channel == "" || chatID == "" || strings.Contains(chatID, "/") {
		g.writeError(w, "expected /api/sessions/{channel}/{chat_id}", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodDelete {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.deps.Sessions == nil || !g.deps.Sessions.Delete(bot.Identity{Channel: channel, ID: chatID}) {
		g.writeError(w, "session not found", http.StatusNotFound)
		return
	}
	g.logger.Info("session reset via gateway", "channel", channel, "chat_id", chatID)
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDispatches implements GET /api/dispatches?channel=&limit=
func (g *Gateway) handleDispatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if g.deps.Dispatches == nil {
		g.writeError(w, "dispatch log not available", http.StatusNotFound)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			g.writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := g.deps.Dispatches.RecentDispatches(r.Context(), r.URL.Query().Get("channel"), limit)
	if err != nil {
		g.logger.Error("reading dispatch log", "error", err)
		g.writeError(w, "failed to read dispatch log", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"dispatches": entries})
}
