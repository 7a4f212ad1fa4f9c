package models

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrValidation is matched by every *ValidationError
var ErrValidation = errors.New("validation failed")

// ErrNoFieldsToUpdate is returned for an update that sets nothing
var ErrNoFieldsToUpdate = errors.New("no fields to update")

// FieldError describes a single rejected field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError is returned before any request is sent when input is incomplete or malformed
type ValidationError struct {
	Fields []FieldError
	cause  error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		if e.cause != nil {
			return fmt.Sprintf("validation failed: %v", e.cause)
		}
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.cause != nil && errors.Is(e.cause, target))
}

// Has reports whether field was rejected.
func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

type fieldChecker struct {
	fields []FieldError
}

func (c *fieldChecker) add(field, msg string) {
	c.fields = append(c.fields, FieldError{Field: field, Message: msg})
}

func (c *fieldChecker) required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		c.add(field, "is required")
		return false
	}
	return true
}

func (c *fieldChecker) absoluteURL(field, value string) {
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		c.add(field, "must be an absolute URL")
	}
}

func (c *fieldChecker) startTime(value string) {
	if _, err := ParseStartTime(value); err != nil {
		c.add("start_time", "must be an ISO-8601 timestamp")
	}
}

func (c *fieldChecker) status(s TournamentStatus) {
	if !s.Valid() {
		c.add("status", fmt.Sprintf("must be one of %s, %s, %s",
			TournamentStatusLive, TournamentStatusUpcoming, TournamentStatusCompleted))
	}
}

func (c *fieldChecker) err() error {
	if len(c.fields) == 0 {
		return nil
	}
	return &ValidationError{Fields: c.fields}
}

// ValidateCreate checks the fields the admin form requires.
func ValidateCreate(req CreateTournamentRequest) error {
	var c fieldChecker
	c.required("title", req.Title)
	c.required("game_name", req.GameName)
	if c.required("stream_url", req.StreamURL) {
		c.absoluteURL("stream_url", req.StreamURL)
	}
	if c.required("image_url", req.ImageURL) {
		c.absoluteURL("image_url", req.ImageURL)
	}
	if req.APIURL != "" {
		c.absoluteURL("api_url", req.APIURL)
	}
	if c.required("start_time", req.StartTime) {
		c.startTime(req.StartTime)
	}
	if req.Status != "" {
		c.status(req.Status)
	}
	return c.err()
}

// ValidateUpdate rejects empty patches and malformed values.
func ValidateUpdate(req UpdateTournamentRequest) error {
	if req.Empty() {
		return &ValidationError{cause: ErrNoFieldsToUpdate}
	}

	var c fieldChecker
	if req.Title != nil {
		c.required("title", *req.Title)
	}
	if req.GameName != nil {
		c.required("game_name", *req.GameName)
	}
	if req.StreamURL != nil && c.required("stream_url", *req.StreamURL) {
		c.absoluteURL("stream_url", *req.StreamURL)
	}
	if req.ImageURL != nil && c.required("image_url", *req.ImageURL) {
		c.absoluteURL("image_url", *req.ImageURL)
	}
	if req.APIURL != nil && *req.APIURL != "" {
		c.absoluteURL("api_url", *req.APIURL)
	}
	if req.StartTime != nil && c.required("start_time", *req.StartTime) {
		c.startTime(*req.StartTime)
	}
	if req.Status != nil {
		c.status(*req.Status)
	}
	return c.err()
}
