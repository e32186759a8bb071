package permission

import (
	"context"
	"errors"
)

// Kind identifies a capability a client must hold to invoke a tool.
type Kind string

const (
	FileRead          Kind = "file_read"
	FileWrite         Kind = "file_write"
	Network           Kind = "network"
	Microphone        Kind = "microphone"
	SpeechRecognition Kind = "speech_recognition"
	TextAnalysis      Kind = "text_analysis"
	SystemInfo        Kind = "system_info"
)

// ErrOracleUnavailable is returned when a permission decision cannot be made.
var ErrOracleUnavailable = errors.New("permission oracle unavailable")

// Oracle answers whether a client holds a permission.
// Implementations may perform I/O and must respect ctx.
type Oracle interface {
	HasPermission(ctx context.Context, kind Kind, clientID string) (bool, error)
}

// AllowAll grants every permission to every client. It is the default oracle.
type AllowAll struct{}

func (AllowAll) HasPermission(context.Context, Kind, string) (bool, error) {
	return true, nil
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, kind Kind, clientID string) (bool, error)

func (f Func) HasPermission(ctx context.Context, kind Kind, clientID string) (bool, error) {
	return f(ctx, kind, clientID)
}

// Missing returns the subset of kinds the oracle does not grant to clientID.
// An oracle error aborts the scan and is returned wrapped.
func Missing(ctx context.Context, o Oracle, clientID string, kinds []Kind) ([]Kind, error) {
	var missing []Kind
	for _, k := range kinds {
		ok, err := o.HasPermission(ctx, k, clientID)
		if err != nil {
			return nil, errors.Join(ErrOracleUnavailable, err)
		}
		if !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}
