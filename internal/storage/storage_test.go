package storage

import (
	"testing"

	"github.com/proctorview/playback/pkg/models"
)

func TestSessionPrefix(t *testing.T) {
	tests := []struct {
		kind      models.StreamKind
		sessionID string
		want      string
	}{
		{models.StreamScreen, "sess-1", "screen/sess-1/"},
		{models.StreamCamera, "sess-1", "camera/sess-1/"},
	}

	for _, tt := range tests {
		got := SessionPrefix(tt.kind, tt.sessionID)
		if got != tt.want {
			t.Errorf("SessionPrefix(%q, %q) = %q, want %q", tt.kind, tt.sessionID, got, tt.want)
		}
	}
}
