// Package chi is the HTTP surface of the query node.
package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/kailas-cloud/querynode/internal/domain"
	healthuc "github.com/kailas-cloud/querynode/internal/usecase/health"
	"github.com/kailas-cloud/querynode/internal/version"
)

const maxBodyBytes = 1 << 20

// queryRequest is the POST /query/rag body.
type queryRequest struct {
	FileID  *int64  `json:"file_id,omitempty"`
	FileURL *string `json:"file_url,omitempty" validate:"omitempty,max=2048"`
	Query   string  `json:"query" validate:"required,max=8192"`
	Limit   *int    `json:"limit,omitempty" validate:"omitempty,gte=1"`
}

// String renders the request for error messages. Unset fields are omitted.
func (q queryRequest) String() string {
	var b strings.Builder
	if q.FileID != nil {
		fmt.Fprintf(&b, "file_id=%d ", *q.FileID)
	}
	if q.FileURL != nil {
		fmt.Fprintf(&b, "file_url=%q ", *q.FileURL)
	}
	fmt.Fprintf(&b, "query=%q", q.Query)
	if q.Limit != nil {
		fmt.Fprintf(&b, " limit=%d", *q.Limit)
	}
	return b.String()
}

type passageJSON struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type queryResponse struct {
	Data     []passageJSON `json:"data"`
	Owner    string        `json:"owner"`
	FileID   int64         `json:"file_id"`
	FileURL  string        `json:"file_url"`
	FileHash string        `json:"file_hash"`
}

// Server holds the HTTP handlers.
type Server struct {
	query    Querier
	health   HealthChecker
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer creates the HTTP handlers.
func NewServer(query Querier, health HealthChecker, logger *zap.Logger) *Server {
	return &Server{
		query:    query,
		health:   health,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Root handles GET /.
func (s *Server) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": version.Name,
		"version": version.APIVersion,
	})
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Server is running",
	})
}

// Ready handles GET /health/ready.
func (s *Server) Ready(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	status := http.StatusOK
	if report.Status != healthuc.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status": string(report.Status),
		"checks": checks,
	})
}

// QueryRAG handles POST /query/rag.
func (s *Server) QueryRAG(w http.ResponseWriter, r *http.Request) {
	var req queryRequest

	// Handle reports an unavailable index before it looks at the request.
	if !s.query.Available() {
		_, err := s.query.Handle(r.Context(), domain.QueryRequest{})
		writeDomainError(w, r, req, err)
		return
	}

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, typeInvalidRequest, "Invalid request body: "+redact(err.Error()))
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, typeInvalidRequest, validationMessage(err))
		return
	}

	res, err := s.query.Handle(r.Context(), domain.QueryRequest{
		FileID:  req.FileID,
		FileURL: req.FileURL,
		Query:   req.Query,
		Limit:   req.Limit,
	})
	if err != nil {
		writeDomainError(w, r, req, err)
		return
	}

	if t := ticketFrom(r.Context()); t != nil {
		t.fileID = res.FileID
	}

	data := make([]passageJSON, len(res.Data))
	for i, p := range res.Data {
		data[i] = passageJSON{Content: p.Content, Score: p.Score}
	}
	writeJSON(w, http.StatusOK, queryResponse{
		Data:     data,
		Owner:    res.Owner,
		FileID:   res.FileID,
		FileURL:  res.FileURL,
		FileHash: res.FileHash,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("Invalid field %s: failed %s validation", fe.Field(), fe.Tag())
	}
	return "Invalid request"
}
