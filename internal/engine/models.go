package engine

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes the canonical error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOK writes the canonical success envelope.
func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody decodes and validates a JSON request body.
func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

// LoginRequest authenticates a web user.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token string   `json:"token"`
	User  string   `json:"user"`
	Roles []string `json:"roles"`
}

// AddUserRequest creates a user with role grants.
type AddUserRequest struct {
	Username string   `json:"username" validate:"required,min=2"`
	Password string   `json:"password" validate:"required,min=4"`
	Roles    []string `json:"roles"`
}

// AddRoleRequest creates a named permission set.
type AddRoleRequest struct {
	Name        string   `json:"name" validate:"required"`
	Permissions []string `json:"permissions" validate:"required,min=1"`
}

// WorkspacePartUpdate is the body of PUT /workspace_part.
type WorkspacePartUpdate struct {
	Name               string          `json:"name" validate:"required"`
	Flowtag            []string        `json:"flowtag" validate:"required,min=1"`
	FlowtagIndex       int             `json:"flowtag_index"`
	FlowtagStatusIndex int             `json:"flowtag_status_index"`
	DataType           string          `json:"data_type" validate:"required,oneof=flowtag_index flowtag_status_index is_timing"`
	NewValue           json.RawMessage `json:"new_value" validate:"required"`
	JobID              *int64          `json:"job_id"`
	ChangedBy          string          `json:"changed_by"`
}

// RecutRequest is the body of POST /workspace_recut.
type RecutRequest struct {
	Name               string   `json:"name" validate:"required"`
	Flowtag            []string `json:"flowtag" validate:"required,min=1"`
	FlowtagIndex       int      `json:"flowtag_index"`
	FlowtagStatusIndex int      `json:"flowtag_status_index"`
	RecutQuantity      int      `json:"recut_quantity" validate:"required,min=1"`
	RecutReason        string   `json:"recut_reason"`
	ChangedBy          string   `json:"changed_by"`
	UserID             int64    `json:"user_id"`
	JobID              *int64   `json:"job_id"`
}

// RecutFinishedRequest is the body of POST /workspace_recut_finished.
type RecutFinishedRequest struct {
	Name               string   `json:"name" validate:"required"`
	Flowtag            []string `json:"flowtag" validate:"required,min=1"`
	FlowtagIndex       int      `json:"flowtag_index"`
	FlowtagStatusIndex int      `json:"flowtag_status_index"`
	ChangedBy          string   `json:"changed_by"`
	JobID              *int64   `json:"job_id"`
}

// BulkEntryUpdate is one element of POST /workspace/bulk_update_entries.
type BulkEntryUpdate struct {
	ID   int64                  `json:"id" validate:"required"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data" validate:"required"`
}

// QuantityUpdateRequest adjusts laser cut part stock counts.
type QuantityUpdateRequest struct {
	Parts     []map[string]interface{} `json:"parts" validate:"required,min=1"`
	Operation string                   `json:"operation" validate:"required,oneof=ADD SUBTRACT"`
}
