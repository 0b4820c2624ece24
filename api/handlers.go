package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"creditindexer/store"
)

const defaultPageSize = 100

var reservedParams = map[string]struct{}{
	"orderBy":        {},
	"orderDirection": {},
	"first":          {},
	"skip":           {},
	"id_in":          {},
}

type page struct {
	Data  any `json:"data"`
	Count int `json:"count"`
	First int `json:"first"`
	Skip  int `json:"skip"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.syncer.Status()
	if err != nil {
		s.logger.Error("read sync status", "error", err, "request_id", RequestID(r.Context()))
		writeJSONError(w, http.StatusInternalServerError, errors.New("status unavailable"))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (collection, bool) {
	name := chi.URLParam(r, "collection")
	c, ok := s.collections[name]
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("unknown collection %q", name))
		return collection{}, false
	}
	return c, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.writeEntity(w, r, c, entityID(r))
}

func (s *Server) writeEntity(w http.ResponseWriter, r *http.Request, c collection, id string) {
	entity, found, err := c.get(s.store, id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !found {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("%s %s not found", c.name, id))
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	c, ok := s.lookup(w, r)
	if !ok {
		return
	}
	q, err := s.parseQuery(c, r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	s.writePage(w, r, c, q)
}

func (s *Server) handleRelated(w http.ResponseWriter, r *http.Request) {
	parent, ok := s.lookup(w, r)
	if !ok {
		return
	}
	id := entityID(r)
	name := chi.URLParam(r, "relation")
	if parent.name == "users" && name == "withdrawalRequest" {
		s.writeEntity(w, r, s.collections["seniorPoolWithdrawalRequests"], id)
		return
	}
	var rel *relation
	for i := range relations[parent.name] {
		if relations[parent.name][i].path == name {
			rel = &relations[parent.name][i]
			break
		}
	}
	if rel == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("%s has no relation %q", parent.name, name))
		return
	}
	if _, found, err := parent.get(s.store, id); err != nil {
		s.internalError(w, r, err)
		return
	} else if !found {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("%s %s not found", parent.name, id))
		return
	}
	child := s.collections[rel.child]
	q, err := s.parseQuery(child, r.URL.Query())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	q.Where[rel.column] = id
	s.writePage(w, r, child, q)
}

func (s *Server) writePage(w http.ResponseWriter, r *http.Request, c collection, q store.Query) {
	rows, n, err := c.list(s.store, q)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page{Data: rows, Count: n, First: q.Limit, Skip: q.Offset})
}

// parseQuery maps list parameters onto a store query. Any parameter that is
// neither reserved nor a declared field of the collection is rejected.
func (s *Server) parseQuery(c collection, values url.Values) (store.Query, error) {
	q := store.Query{Where: map[string]any{}, Limit: defaultPageSize}
	for key, vals := range values {
		if _, reserved := reservedParams[key]; reserved {
			continue
		}
		f, ok := c.fields[key]
		if !ok {
			return q, fmt.Errorf("unknown filter %q for %s", key, c.name)
		}
		v, err := f.value(vals[0])
		if err != nil {
			return q, fmt.Errorf("filter %s: %w", key, err)
		}
		q.Where[f.column] = v
	}
	if raw := values.Get("id_in"); raw != "" {
		var ids []string
		for _, id := range strings.Split(raw, ",") {
			if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
				ids = append(ids, id)
			}
		}
		q.In = map[string][]string{"id": ids}
	}
	if raw := values.Get("orderBy"); raw != "" {
		if raw == "id" {
			q.Order = "id"
		} else {
			f, ok := c.fields[raw]
			if !ok {
				return q, fmt.Errorf("cannot order %s by %q", c.name, raw)
			}
			q.Order = f.column
			q.Numeric = f.kind == kindNumeric
		}
	}
	switch strings.ToLower(values.Get("orderDirection")) {
	case "", "asc":
	case "desc":
		q.Desc = true
	default:
		return q, fmt.Errorf("orderDirection must be asc or desc")
	}
	if raw := values.Get("first"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.maxPageSize {
			return q, fmt.Errorf("first must be between 1 and %d", s.maxPageSize)
		}
		q.Limit = n
	}
	if q.Limit > s.maxPageSize {
		q.Limit = s.maxPageSize
	}
	if raw := values.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return q, fmt.Errorf("skip must be a non-negative integer")
		}
		q.Offset = n
	}
	return q, nil
}

type replayRequest struct {
	ToBlock *uint64 `json:"toBlock"`
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req replayRequest
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if req.ToBlock == nil {
		writeJSONError(w, http.StatusBadRequest, errors.New("toBlock is required"))
		return
	}
	status, err := s.syncer.Status()
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if *req.ToBlock > status.Cursor {
		writeJSONError(w, http.StatusBadRequest, fmt.Errorf("toBlock %d is above cursor %d", *req.ToBlock, status.Cursor))
		return
	}
	s.syncer.RequestRewind(*req.ToBlock)
	s.logger.Warn("replay requested",
		"to_block", *req.ToBlock,
		"cursor", status.Cursor,
		"request_id", RequestID(r.Context()))
	writeJSON(w, http.StatusAccepted, map[string]uint64{"toBlock": *req.ToBlock, "cursor": status.Cursor})
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("query failed", "path", r.URL.Path, "error", err, "request_id", RequestID(r.Context()))
	writeJSONError(w, http.StatusInternalServerError, errors.New("internal error"))
}

func entityID(r *http.Request) string {
	return strings.ToLower(strings.TrimSpace(chi.URLParam(r, "id")))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSONError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	message := strings.TrimSpace(err.Error())
	if message == "" {
		message = http.StatusText(status)
	}
	payload, marshalErr := json.Marshal(map[string]string{"error": message})
	if marshalErr != nil {
		payload = []byte(`{"error":"` + http.StatusText(status) + `"}`)
	}
	_, _ = w.Write(payload)
}
