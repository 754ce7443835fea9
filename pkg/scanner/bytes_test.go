package scanner

import "testing"

func TestFieldScansKeyPosition(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		want    string
		ok      bool
	}{
		{"leading", `{"topic":"room:general","type":"message"}`, "room:general", true},
		{"trailing", `{"type":"message","topic":"room:general"}`, "room:general", true},
		{"spaced", `{ "topic" : "room:general" }`, "room:general", true},
		{"missing", `{"type":"message"}`, "", false},
		{"non-string value", `{"topic":42}`, "", false},
		{"escaped value", `{"topic":"room:\"vip\""}`, "", false},
		{"truncated", `{"topic":"room:gen`, "", false},
		{"empty payload", ``, "", false},
	}
	for _, tc := range cases {
		got, ok := Field([]byte(tc.payload), []byte(`"topic"`))
		if ok != tc.ok {
			t.Fatalf("%s: expected ok=%v, got %v", tc.name, tc.ok, ok)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestFieldSkipsMatchesInValuePosition(t *testing.T) {
	// "topic" appears first as a value, preceded by ':'. The scan skips
	// it and lands on the real key further in.
	payload := []byte(`{"type":"topic","topic":"room:general"}`)
	got, ok := Field(payload, []byte(`"topic"`))
	if !ok || string(got) != "room:general" {
		t.Fatalf("expected room:general, got %q ok=%v", got, ok)
	}
}
