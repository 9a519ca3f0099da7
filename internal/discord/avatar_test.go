package discord

import "testing"

func TestAvatarURL(t *testing.T) {
	tests := []struct {
		name string
		id   string
		hash string
		size int
		want string
	}{
		{
			name: "no hash",
			id:   "123",
			hash: "",
			want: "",
		},
		{
			name: "whitespace hash",
			id:   "123",
			hash: "   ",
			want: "",
		},
		{
			name: "static avatar",
			id:   "123",
			hash: "abc123",
			size: 256,
			want: "https://cdn.discordapp.com/avatars/123/abc123.png?size=256",
		},
		{
			name: "animated avatar",
			id:   "123",
			hash: "a_abc123",
			size: 256,
			want: "https://cdn.discordapp.com/avatars/123/a_abc123.gif?size=256",
		},
		{
			name: "default size",
			id:   "123",
			hash: "abc123",
			size: 0,
			want: "https://cdn.discordapp.com/avatars/123/abc123.png?size=128",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AvatarURL(tt.id, tt.hash, tt.size); got != tt.want {
				t.Errorf("AvatarURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
