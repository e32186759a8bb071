package registry

import (
	"encoding/json"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Response is the uniform envelope returned for every call.
type Response struct {
	Success       bool
	Data          *structpb.Value
	Error         *ErrorInfo
	ExecutionTime float64 // seconds
}

// ErrorInfo describes a failed call.
type ErrorInfo struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func failure(err error, elapsed time.Duration) *Response {
	return &Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    ErrorCode(err),
			Message: err.Error(),
			Details: ErrorDetails(err),
		},
		ExecutionTime: elapsed.Seconds(),
	}
}

type wireResponse struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorInfo      `json:"error,omitempty"`
	ExecutionTime float64         `json:"executionTime"`
}

// MarshalJSON encodes Data with protojson.
func (r Response) MarshalJSON() ([]byte, error) {
	w := wireResponse{Success: r.Success, Error: r.Error, ExecutionTime: r.ExecutionTime}
	if r.Data != nil {
		raw, err := protojson.Marshal(r.Data)
		if err != nil {
			return nil, err
		}
		w.Data = raw
	}
	return json.Marshal(w)
}
