package trip

import "testing"

func TestCanTransition(t *testing.T) {
	all := []Status{StatusNone, StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusNone, StatusRequested}:       true,
		{StatusRequested, StatusAccepted}:   true,
		{StatusRequested, StatusCancelled}:  true,
		{StatusAccepted, StatusInProgress}:  true,
		{StatusAccepted, StatusCancelled}:   true,
		{StatusInProgress, StatusCompleted}: true,
	}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusCompleted, StatusCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if len(AllowedTransitions[s]) != 0 {
			t.Errorf("%s has outgoing transitions %v", s, AllowedTransitions[s])
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("IN_PROGRESS"); !ok || s != StatusInProgress {
		t.Fatalf("ParseStatus(IN_PROGRESS) = %q, %v", s, ok)
	}
	for _, bad := range []string{"", "requested", "DONE"} {
		if _, ok := ParseStatus(bad); ok {
			t.Errorf("ParseStatus(%q) should fail", bad)
		}
	}
}

func TestStatusHasDriver(t *testing.T) {
	cases := map[Status]bool{
		StatusRequested:  false,
		StatusAccepted:   true,
		StatusInProgress: true,
		StatusCompleted:  true,
		StatusCancelled:  false,
	}
	for s, want := range cases {
		if got := s.HasDriver(); got != want {
			t.Errorf("%s.HasDriver() = %v, want %v", s, got, want)
		}
	}
}
