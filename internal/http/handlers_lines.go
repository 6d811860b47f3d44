package http

import (
	"net/http"

	"haushalt/internal/ledger"
	"haushalt/internal/log"
)

func (s *Server) handleListLines(w http.ResponseWriter, r *http.Request) {
	order, err := ledger.ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	lines, err := s.reader.ListLines(r.Context(), userFrom(r.Context()).ID, order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

func (s *Server) handleCreateLine(w http.ResponseWriter, r *http.Request) {
	var req createLineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	line, err := s.ledger.CreateLine(r.Context(), userFrom(r.Context()).ID, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "Line created",
		log.NewFields().WithLine(line.ID, line.Category).ToSlice()...)
	writeJSON(w, http.StatusCreated, line)
}

func (s *Server) handleGetLine(w http.ResponseWriter, r *http.Request) {
	line, err := s.reader.GetLine(r.Context(), userFrom(r.Context()).ID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) handleUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	line, err := s.ledger.UpdateLine(r.Context(), userFrom(r.Context()).ID, r.PathValue("id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, line)
}

func (s *Server) handleDeleteLine(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteLine(r.Context(), userFrom(r.Context()).ID, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddSubitem(w http.ResponseWriter, r *http.Request) {
	var req subitemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := req.Amount.value("amount")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sub, err := s.ledger.AddSubitem(r.Context(), userFrom(r.Context()).ID, r.PathValue("id"), sanitizeInput(req.Label), amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleRemoveSubitem(w http.ResponseWriter, r *http.Request) {
	err := s.ledger.RemoveSubitem(r.Context(), userFrom(r.Context()).ID, r.PathValue("id"), r.PathValue("subID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
