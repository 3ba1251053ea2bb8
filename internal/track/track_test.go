package track

import "testing"

func TestUnsubscribeURL(t *testing.T) {
	t.Parallel()

	got := UnsubscribeURL("https://news.example.com/hook", "tok 1")
	want := "https://news.example.com/hook?mode=unsub&t=tok+1"
	if got != want {
		t.Errorf("UnsubscribeURL: got %q, want %q", got, want)
	}
}

func TestOpenPixelURL(t *testing.T) {
	t.Parallel()

	got := OpenPixelURL("https://news.example.com/hook", "tok-1", "spring & summer")
	want := "https://news.example.com/hook?cid=spring+%26+summer&mode=track_open&t=tok-1"
	if got != want {
		t.Errorf("OpenPixelURL: got %q, want %q", got, want)
	}
}

func TestOpenPixelURL_EmptyCampaign(t *testing.T) {
	t.Parallel()

	got := OpenPixelURL("https://news.example.com/hook", "tok-1", "")
	want := "https://news.example.com/hook?mode=track_open&t=tok-1"
	if got != want {
		t.Errorf("OpenPixelURL: got %q, want %q", got, want)
	}
}
