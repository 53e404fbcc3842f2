package platform

import (
	"testing"

	api "github.com/OvyFlash/telegram-bot-api"
)

func TestGetFullName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		user *api.User
		want string
	}{
		{name: "nil", user: nil, want: ""},
		{name: "first only", user: &api.User{FirstName: "Ada"}, want: "Ada"},
		{name: "first and last", user: &api.User{FirstName: "Ada", LastName: "Lovelace"}, want: "Ada Lovelace"},
		{name: "username fallback", user: &api.User{UserName: "ada"}, want: "ada"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := GetFullName(tc.user); got != tc.want {
				t.Fatalf("GetFullName = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractLinks(t *testing.T) {
	t.Parallel()

	msg := &api.Message{
		Entities: []api.MessageEntity{
			{Type: "text_link", URL: "https://hidden.example/page"},
			{Type: "bold"},
		},
	}
	text := "visit https://spam.example/a, then https://spam.example/a and t.me/channel!"

	links := extractLinks(msg, text)
	want := []string{"https://hidden.example/page", "https://spam.example/a", "t.me/channel"}
	if len(links) != len(want) {
		t.Fatalf("links = %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("links = %v, want %v", links, want)
		}
	}
}

func TestFingerprintStability(t *testing.T) {
	t.Parallel()

	a := fingerprint(&api.Message{}, "same text")
	b := fingerprint(&api.Message{}, "same text")
	if a == "" || a != b {
		t.Fatalf("identical content must share a fingerprint")
	}
	if c := fingerprint(&api.Message{}, "other text"); c == a {
		t.Fatalf("different content must not collide")
	}
	if empty := fingerprint(&api.Message{}, ""); empty != "" {
		t.Fatalf("contentless messages have no fingerprint, got %q", empty)
	}
}

func TestFromAPIMessageForwardOrigin(t *testing.T) {
	t.Parallel()

	msg := &api.Message{
		Chat:      api.Chat{ID: -100},
		MessageID: 7,
		From:      &api.User{ID: 5, FirstName: "Ada"},
		Text:      "hello",
		ForwardOrigin: &api.MessageOrigin{
			SenderUser: &api.User{ID: 9, FirstName: "Mallory"},
		},
	}

	m := FromAPIMessage(msg)
	if m.GroupID != -100 || m.MessageID != 7 || m.UserID != 5 {
		t.Fatalf("unexpected identity fields: %+v", m)
	}
	if m.ForwardUserID != 9 || m.ForwardName != "Mallory" {
		t.Fatalf("unexpected forward fields: %+v", m)
	}
	if m.SenderName != "Ada" {
		t.Fatalf("unexpected sender name %q", m.SenderName)
	}
}
