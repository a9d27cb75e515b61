package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/offlinekit/docstore/internal/common"
	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/server/users"
)

// defaultChangesLimit caps one-shot change pages when the client does not ask
// for a specific page size.
const defaultChangesLimit = 1000

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type sessionResponse struct {
	OK    bool     `json:"ok"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
	Token string   `json:"token,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.ValidationErrors{"body": "invalid json"})
		return
	}

	sess, err := s.users.Authenticate(r.Context(), req.Name, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		OK:    true,
		Name:  sess.Name,
		Roles: sess.Roles,
		Token: sess.Token,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	writeJSON(w, http.StatusOK, sessionResponse{
		OK:    true,
		Name:  claims.Name,
		Roles: claims.Roles,
	})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	doc, err := s.docs.Get(r.Context(), r.PathValue("collection"), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")

	var doc document.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, common.ValidationErrors{"body": "invalid json"})
		return
	}

	switch doc.ID() {
	case "":
		doc[document.FieldID] = id
	case id:
	default:
		writeError(w, common.ValidationErrors{document.FieldID: "does not match request path"})
		return
	}

	if collection == users.Collection {
		prepared, err := s.users.Prepare(doc)
		if err != nil {
			writeError(w, err)
			return
		}
		doc = prepared
	}

	saved, err := s.docs.Put(r.Context(), collection, doc, false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")
	id := r.PathValue("id")
	rev := r.URL.Query().Get("rev")

	if err := s.docs.Delete(r.Context(), collection, id, rev); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id, "rev": rev})
}

type bulkRequest struct {
	Docs  []document.Document `json:"docs"`
	Force bool                `json:"force"`
}

type bulkResult struct {
	ID     string            `json:"id"`
	OK     bool              `json:"ok"`
	Error  string            `json:"error,omitempty"`
	Reason string            `json:"reason,omitempty"`
	Doc    document.Document `json:"doc,omitempty"`
}

func (s *Server) handleBulkDocs(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, common.ValidationErrors{"body": "invalid json"})
		return
	}

	results := make([]bulkResult, 0, len(req.Docs))
	for _, doc := range req.Docs {
		if collection == users.Collection {
			prepared, err := s.users.Prepare(doc)
			if err != nil {
				results = append(results, failedResult(doc.ID(), err))
				continue
			}
			doc = prepared
		}

		saved, err := s.docs.Put(r.Context(), collection, doc, req.Force)
		if err != nil {
			results = append(results, failedResult(doc.ID(), err))
			continue
		}
		results = append(results, bulkResult{ID: saved.ID(), OK: true, Doc: saved})
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func failedResult(id string, err error) bulkResult {
	_, body := errorStatus(err)
	return bulkResult{ID: id, Error: body.Error, Reason: body.Reason}
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	var q document.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, common.ValidationErrors{"body": "invalid json"})
		return
	}

	docs, err := s.docs.Find(r.Context(), r.PathValue("collection"), q)
	if err != nil {
		writeError(w, err)
		return
	}
	if docs == nil {
		docs = []document.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	collection := r.PathValue("collection")

	since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultChangesLimit
	}

	if r.URL.Query().Get("feed") == "ws" {
		s.serveFeed(w, r, collection, since)
		return
	}

	page, err := s.docs.Changes(r.Context(), collection, since, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if page.Results == nil {
		page.Results = []document.Change{}
	}
	writeJSON(w, http.StatusOK, page)
}
