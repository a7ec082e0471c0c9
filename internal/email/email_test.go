package email

import "testing"

func TestMessage_Embeds_Envelope(t *testing.T) {
	msg := Message{
		Envelope: Envelope{
			UID:     42,
			Subject: "Test",
		},
		TextBody: "Hello",
	}
	if msg.UID != 42 {
		t.Errorf("embedded UID = %d, want 42", msg.UID)
	}
	if msg.Subject != "Test" {
		t.Errorf("embedded Subject = %q, want %q", msg.Subject, "Test")
	}
}

func TestMessage_ThreadRoot(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			name: "references head",
			msg: Message{
				MessageID:  "c@example.com",
				InReplyTo:  []string{"b@example.com"},
				References: []string{"a@example.com", "b@example.com"},
			},
			want: "a@example.com",
		},
		{
			name: "in-reply-to only",
			msg:  Message{MessageID: "c@example.com", InReplyTo: []string{"b@example.com"}},
			want: "b@example.com",
		},
		{
			name: "new conversation",
			msg:  Message{MessageID: "a@example.com"},
			want: "a@example.com",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.ThreadRoot(); got != tt.want {
				t.Errorf("ThreadRoot() = %q, want %q", got, tt.want)
			}
		})
	}
}
