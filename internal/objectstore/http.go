package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// MaxUploadSize caps request bodies accepted by Server.
const MaxUploadSize = 10 << 20

// Authorizer validates a bearer token and returns the user it belongs to.
type Authorizer func(token string) (userID string, err error)

// Server exposes a Local store over HTTP. GET and HEAD are public. PUT and
// DELETE need a bearer token, and users may only touch objects under their
// own ID, i.e. paths of the form <userID>/...
type Server struct {
	store     *Local
	files     http.Handler
	authorize Authorizer
	logger    *slog.Logger
}

// NewServer creates a Server. Mount it with http.StripPrefix so request
// paths are object paths.
func NewServer(store *Local, authorize Authorizer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{store: store, files: store.Handler(), authorize: authorize, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.files.ServeHTTP(w, r)
		return
	case http.MethodPut, http.MethodDelete:
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		http.Error(w, "authorization token required", http.StatusUnauthorized)
		return
	}
	userID, err := s.authorize(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	objectPath, err := cleanPath(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if owner, _, _ := strings.Cut(objectPath, "/"); owner != userID {
		s.logger.Warn("Object write refused", "path", objectPath, "user_id", userID)
		http.Error(w, "objects belong to their owner", http.StatusForbidden)
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.store.Remove(r.Context(), objectPath); err != nil {
			s.logger.Error("Failed to remove object", "path", objectPath, "error", err)
			http.Error(w, "failed to remove object", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	if err != nil {
		http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
		return
	}
	url, err := s.store.Upload(r.Context(), objectPath, data)
	if err != nil {
		s.logger.Error("Failed to upload object", "path", objectPath, "error", err)
		http.Error(w, "failed to store object", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	io.WriteString(w, url)
}

// HTTP is a Store backed by a remote Server.
type HTTP struct {
	client  *http.Client
	baseURL string
	token   func() string
}

// Ensure HTTP implements Store
var _ Store = (*HTTP)(nil)

// NewHTTP creates a client for the Server mounted at baseURL. token supplies
// the bearer token for writes.
func NewHTTP(client *http.Client, baseURL string, token func() string) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{client: client, baseURL: strings.TrimRight(baseURL, "/"), token: token}
}

func (h *HTTP) Upload(ctx context.Context, objectPath string, data []byte) (string, error) {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return "", err
	}
	body, err := h.do(ctx, http.MethodPut, clean, data)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (h *HTTP) Remove(ctx context.Context, objectPath string) error {
	clean, err := cleanPath(objectPath)
	if err != nil {
		return err
	}
	_, err = h.do(ctx, http.MethodDelete, clean, nil)
	return err
}

func (h *HTTP) PathOf(url string) (string, bool) {
	p, ok := strings.CutPrefix(url, h.baseURL+"/")
	if !ok || p == "" {
		return "", false
	}
	return p, true
}

func (h *HTTP) do(ctx context.Context, method, objectPath string, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+"/"+objectPath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if h.token != nil {
		if t := h.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, objectPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	return body, nil
}

// StatusError is a non-success response from a Server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("object store returned %d: %s", e.Code, e.Message)
}

// IsForbidden reports whether err is a refused write.
func IsForbidden(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusForbidden
}
