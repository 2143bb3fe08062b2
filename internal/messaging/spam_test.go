package messaging

import "testing"

func TestIsMachinePayload(t *testing.T) {
	markers := []string{"kind", "sig", "bolt11", "invoice", "offer"}

	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"plain text", "hey, how are you?", false},
		{"text with braces", "use {this} syntax", false},
		{"json without markers", `{"message":"hello"}`, false},
		{"embedded event", `{"kind":9735,"content":"","tags":[]}`, true},
		{"zap receipt", `{"bolt11":"lnbc10n1..."}`, true},
		{"payment offer", `{"offer":"lno1..."}`, true},
		{"invoice request", `{"invoice":"lnbc...","amount":21}`, true},
		{"json array", `[1,2,3]`, false},
		{"empty string", "", false},
		{"marker as value not key", `{"note":"pay this bolt11 later"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMachinePayload(tt.content, markers); got != tt.want {
				t.Errorf("IsMachinePayload(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

func TestIsMachinePayloadNoMarkers(t *testing.T) {
	if IsMachinePayload(`{"kind":4}`, nil) {
		t.Error("no markers configured should never match")
	}
}
