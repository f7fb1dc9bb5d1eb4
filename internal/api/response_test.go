package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		data     interface{}
		wantBody string
	}{
		{"outcome", http.StatusOK, OutcomeResponse{CallID: 7, Outcome: "restored"}, `{"call_id":7,"outcome":"restored"}`},
		{"accepted", http.StatusAccepted, map[string]int{"queued": 2}, `{"queued":2}`},
		{"nil data", http.StatusOK, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			RespondJSON(w, tt.status, tt.data)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			want := tt.wantBody
			if want != "" {
				// json.Encoder appends a newline
				want += "\n"
			}
			if got := w.Body.String(); got != want {
				t.Errorf("body = %q, want %q", got, want)
			}
		})
	}
}

func TestRespondErrors(t *testing.T) {
	tests := []struct {
		name     string
		write    func(w http.ResponseWriter)
		status   int
		wantErr  string
		wantCode string
	}{
		{
			name:    "plain",
			write:   func(w http.ResponseWriter) { RespondError(w, http.StatusNotFound, "call not found") },
			status:  http.StatusNotFound,
			wantErr: "call not found",
		},
		{
			name: "with code",
			write: func(w http.ResponseWriter) {
				RespondErrorWithCode(w, http.StatusConflict, "already_excluded", "call is already excluded")
			},
			status:   http.StatusConflict,
			wantErr:  "call is already excluded",
			wantCode: "already_excluded",
		},
		{
			name: "validation",
			write: func(w http.ResponseWriter) {
				RespondValidationError(w, map[string]string{"actor": "is required"})
			},
			status:   http.StatusUnprocessableEntity,
			wantErr:  "Validation failed",
			wantCode: "validation_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Error != tt.wantErr || resp.Code != tt.wantCode {
				t.Errorf("response = %+v, want error %q code %q", resp, tt.wantErr, tt.wantCode)
			}
			if tt.wantCode == "validation_error" && resp.Details["actor"] != "is required" {
				t.Errorf("details = %v", resp.Details)
			}
		})
	}
}

func TestRespondNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	RespondNoContent(w)

	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("status = %d, body length = %d", w.Code, w.Body.Len())
	}
}

func TestRespondPaginated(t *testing.T) {
	w := httptest.NewRecorder()
	RespondPaginated(w, []CallListItem{{ID: 1, CallID: "C-1"}}, PaginationParams{Page: 2, PerPage: 1}, 3)

	var resp struct {
		Data       []CallListItem `json:"data"`
		Pagination PaginationMeta `json:"pagination"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].CallID != "C-1" {
		t.Errorf("data = %+v", resp.Data)
	}
	want := PaginationMeta{Page: 2, PerPage: 1, Total: 3, TotalPages: 3}
	if resp.Pagination != want {
		t.Errorf("pagination = %+v, want %+v", resp.Pagination, want)
	}
}
