package adminapi

import (
	"fmt"
	"time"

	"github.com/roach88/adminsync/internal/query"
)

// Record is one admin-visible user. The engine only relies on ID.
type Record struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email,omitempty"`
	Name               string     `json:"name,omitempty"`
	Role               string     `json:"role"`
	Status             string     `json:"status"`
	VerificationStatus string     `json:"verificationStatus"`
	LastActive         *time.Time `json:"lastActive"`
	CreatedAt          *time.Time `json:"createdAt,omitempty"`
}

// FetchResult is one page of the collection.
type FetchResult struct {
	Records    []Record
	TotalCount int
	TotalPages int
	// FetchedAt is the wall time the request was issued. Display only.
	FetchedAt time.Time
	ForQuery  query.Params
}

// Stats is the dashboard summary.
type Stats struct {
	TotalUsers           int       `json:"totalUsers"`
	ActiveUsers          int       `json:"activeUsers"`
	PendingVerifications int       `json:"pendingVerifications"`
	SuspendedUsers       int       `json:"suspendedUsers"`
	NewUsersToday        int       `json:"newUsersToday"`
	FetchedAt            time.Time `json:"-"`
}

// BulkAction selects the state change a bulk request applies.
type BulkAction string

const (
	BulkVerify   BulkAction = "verify"
	BulkReject   BulkAction = "reject"
	BulkDelete   BulkAction = "delete"
	BulkSuspend  BulkAction = "suspend"
	BulkActivate BulkAction = "activate"
)

// BulkActions lists every supported action.
var BulkActions = []BulkAction{BulkVerify, BulkReject, BulkDelete, BulkSuspend, BulkActivate}

// Valid reports whether a is a supported action.
func (a BulkAction) Valid() bool {
	for _, x := range BulkActions {
		if a == x {
			return true
		}
	}
	return false
}

// ParseBulkAction validates s.
func ParseBulkAction(s string) (BulkAction, error) {
	a := BulkAction(s)
	if !a.Valid() {
		return "", NewValidationError("unknown bulk action %q", s)
	}
	return a, nil
}

// Endpoint returns the path segment for the action ("bulk-verify").
func (a BulkAction) Endpoint() string {
	return fmt.Sprintf("bulk-%s", a)
}

// BulkItemError names one failed id.
type BulkItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// BulkResult is the server's aggregate outcome.
type BulkResult struct {
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
	Errors       []BulkItemError `json:"errors,omitempty"`
}

// Wire envelopes.

// ListEnvelope is the collection response body.
type ListEnvelope struct {
	Data ListData `json:"data"`
}

// ListData carries one page and its pagination metadata.
type ListData struct {
	Records    []Record   `json:"records"`
	Pagination Pagination `json:"pagination"`
}

// Pagination is the collection's size metadata.
type Pagination struct {
	TotalPages int `json:"totalPages"`
	Total      int `json:"total"`
	Page       int `json:"page,omitempty"`
	Limit      int `json:"limit,omitempty"`
}

// StatsEnvelope is the stats response body.
type StatsEnvelope struct {
	Data Stats `json:"data"`
}

// BulkRequest is the bulk endpoint request body.
type BulkRequest struct {
	IDs []string `json:"ids"`
}

// BulkEnvelope is the bulk endpoint response body.
type BulkEnvelope struct {
	Success bool       `json:"success"`
	Data    BulkResult `json:"data"`
	Message string     `json:"message,omitempty"`
}

// ErrorEnvelope is the body of a non-2xx response.
type ErrorEnvelope struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
