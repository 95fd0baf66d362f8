package relay

import "testing"

func TestShouldRespond(t *testing.T) {
	tests := []struct {
		text  string
		reply bool
		want  bool
	}{
		{"/start", false, true},
		{"!help", false, true},
		{"#todo list", false, true},
		{"hello bot", false, true},
		{"Hello BOT", false, true},
		{"robotics is fun", false, true},
		{"Дик, привет", false, true},
		{"hello", false, false},
		{"? what is the status", false, false},
		{"? what is the status", true, true},
		{"", false, false},
		{"", true, true},
		{"   !not a prefix", false, false},
	}

	for _, tt := range tests {
		if got := ShouldRespond(tt.text, tt.reply); got != tt.want {
			t.Errorf("ShouldRespond(%q, %v) = %v, want %v", tt.text, tt.reply, got, tt.want)
		}
	}
}

func TestIntentFilterCustomSets(t *testing.T) {
	f := NewIntentFilter([]string{"?"}, []string{"Helper"})

	if !f.ShouldRespond("? status", false) {
		t.Error("custom prefix not honoured")
	}
	if !f.ShouldRespond("hey helper", false) {
		t.Error("custom mention not matched case-insensitively")
	}
	if f.ShouldRespond("!help", false) {
		t.Error("default prefix should be replaced by custom set")
	}

	empty := NewIntentFilter([]string{}, []string{})
	if empty.ShouldRespond("/start bot", false) {
		t.Error("empty sets should only accept reply context")
	}
	if !empty.ShouldRespond("anything", true) {
		t.Error("reply context must always pass")
	}
}
