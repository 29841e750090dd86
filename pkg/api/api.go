// Package api defines the request and response messages of the circles RPC
// services. Messages are plain structs carried by a JSON codec.
package api

import (
	"bytes"
	"encoding/json"

	"connectrpc.com/connect"

	"github.com/ikimina/circles/internal/storage"
)

// Codec marshals messages as JSON. Numbers decode as json.Number so 64-bit
// integers survive the round trip.
type Codec struct{}

func (Codec) Name() string { return "json" }

func (Codec) Marshal(msg any) ([]byte, error) {
	return json.Marshal(msg)
}

func (Codec) Unmarshal(data []byte, msg any) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(msg)
}

// WithCodec returns the option selecting Codec for handlers and clients.
func WithCodec() connect.Option {
	return connect.WithCodec(Codec{})
}

// Collection service

type QueryRequest struct {
	Query storage.Query `json:"query"`
}

type QueryResponse struct {
	Records []storage.Record `json:"records"`
}

type InsertRequest struct {
	Collection string         `json:"collection"`
	Record     storage.Record `json:"record"`
}

type InsertResponse struct {
	Record storage.Record `json:"record"`
}

type UpdateRequest struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	Patch      storage.Record `json:"patch"`
}

type UpdateResponse struct {
	Record storage.Record `json:"record"`
}

type DeleteRequest struct {
	Collection string           `json:"collection"`
	Filters    []storage.Filter `json:"filters"`
}

type DeleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type AdjustRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Field      string `json:"field"`
	Delta      int64  `json:"delta"`
}

type AdjustResponse struct {
	Value int64 `json:"value"`
}

// Auth service

type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	// CreatedAt is Unix seconds.
	CreatedAt int64 `json:"created_at,omitempty"`
}

type RegisterRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
	Phone       string `json:"phone,omitempty"`
}

type RegisterResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

type LogoutRequest struct{}

type LogoutResponse struct{}

type GetCurrentUserRequest struct{}

type GetCurrentUserResponse struct {
	User *User `json:"user"`
}
