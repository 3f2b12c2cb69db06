package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/solverhub/solver-node/internal/component"
	"github.com/solverhub/solver-node/internal/conversation"
	"github.com/solverhub/solver-node/internal/playbook"
)

var componentNames = []string{
	component.Complete,
	component.Refine,
	component.Feedback,
	component.HumanFeedback,
	component.InternetSearch,
	component.Summary,
	component.Aggregate,
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":       "Solver Node API",
		"status":     "running",
		"node":       s.cfg.Node.Name,
		"role":       s.cfg.Node.Role,
		"components": componentNames,
		"endpoints": map[string]string{
			"health":        "GET /health",
			"capabilities":  "GET /capabilities",
			"metrics":       "GET /metrics",
			"engines":       "GET /engines",
			"conversations": "GET /conversations",
			"playbook":      "GET /playbook/{cid}",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if err := s.conversations.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	stats, err := s.conversations.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":               status,
		"node":                 s.cfg.Node.Name,
		"role":                 s.cfg.Node.Role,
		"active_conversations": stats.Conversations,
		"stored_messages":      stats.Messages,
		"solution_store":       s.solutions.Available(),
		"inference_engines":    len(s.engines.ListEngines()),
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"node_name":                 s.cfg.Node.Name,
		"role":                      s.cfg.Node.Role,
		"components":                componentNames,
		"models":                    s.engines.ListModels(),
		"max_conversation_messages": s.cfg.Conversation.MaxMessages,
		"message_retention_days":    s.cfg.Conversation.MaxAgeDays,
		"features": map[string]bool{
			"unified_component_interface": true,
			"conversation_history":        true,
			"auto_message_cleanup":        true,
			"playbook_system":             true,
			"solution_sharing":            s.solutions.Available(),
			"internet_search":             s.cfg.Search.GoogleAPIKey != "",
			"majority_voting":             true,
		},
	})
}

func (s *Server) handleEngines(w http.ResponseWriter, r *http.Request) {
	engines := s.engines.ListEngines()
	out := make([]map[string]any, 0, len(engines))
	for _, e := range engines {
		out = append(out, map[string]any{
			"name":   e.Name,
			"type":   e.Type,
			"url":    e.URL,
			"models": e.Models,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"engines": out})
}

// componentHandler adapts one component to HTTP.
func (s *Server) componentHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req component.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if strings.TrimSpace(req.Task) == "" {
			writeError(w, http.StatusBadRequest, "task is required")
			return
		}

		res, err := s.runner.Run(r.Context(), name, &req)
		if err != nil {
			s.logger.Error("component failed", "component", name, "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.conversations.ListConversations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": summaries})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	messages, err := s.conversations.RecentMessages(r.Context(), cid, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(messages) == 0 {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": cid,
		"messages":        messages,
	})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	deleted, err := s.conversations.DeleteConversation(r.Context(), cid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if deleted == 0 {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id":  cid,
		"deleted_messages": deleted,
	})
}

func (s *Server) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	entries, err := s.playbook.Entries(r.Context(), cid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []playbook.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": cid,
		"entries":         entries,
	})
}

func (s *Server) handleGetPlaybookContext(w http.ResponseWriter, r *http.Request) {
	cid := r.PathValue("cid")
	entries, err := s.playbook.Entries(r.Context(), cid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": cid,
		"context":         playbook.FormatContext(entries),
		"entry_count":     len(entries),
	})
}
