package api

import "net/http"

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	env := envelope{
		"status": "available",
		"books":  len(s.service.Books()),
	}
	if err := s.encodeJSON(w, http.StatusOK, env, nil); err != nil {
		s.serverErrorResponse(w, r, err)
	}
}
