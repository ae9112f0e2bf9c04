package persona

import "testing"

func TestExactlyTwoPersonas(t *testing.T) {
	names := Names()
	if len(names) != 2 {
		t.Fatalf("expected 2 personas, got %d", len(names))
	}
	if names[0] != Priya {
		t.Errorf("leader should be listed first, got %q", names[0])
	}
	for _, name := range names {
		if !Valid(name) {
			t.Errorf("Valid(%q) = false for a listed persona", name)
		}
	}
}

func TestLookup(t *testing.T) {
	priya, ok := Lookup(Priya)
	if !ok {
		t.Fatal("priya should exist")
	}
	if !priya.Leader {
		t.Error("priya is the leader and should carry the opening greeting role")
	}
	if priya.Greeting == "" {
		t.Error("leader must have a greeting instruction")
	}

	alex, ok := Lookup(Alex)
	if !ok {
		t.Fatal("alex should exist")
	}
	if alex.Leader {
		t.Error("alex must not be a leader")
	}
	if alex.Greeting != "" {
		t.Error("alex waits silently and must not greet")
	}

	if priya.VoiceID == alex.VoiceID {
		t.Error("personas must have distinct voices")
	}

	if _, ok := Lookup("carol"); ok {
		t.Error("unknown persona should not resolve")
	}
}
